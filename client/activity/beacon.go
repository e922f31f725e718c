package activity

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/module/presence/model"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

const BeaconPath = "/api/users/status-update-beacon"

// Beacon delivers a teardown report without blocking the caller. Send
// reports whether the report was accepted for delivery.
type Beacon interface {
	Send(form url.Values) bool
}

// BeaconForm is the body of a teardown report.
func BeaconForm(userID int64, connID string, at time.Time) url.Values {
	f := url.Values{}
	f.Set("user_id", strconv.FormatInt(userID, 10))
	f.Set("status", string(model.StatusOffline))
	f.Set("force", "true")
	f.Set("timestamp", strconv.FormatInt(at.UnixMilli(), 10))
	if connID != "" {
		f.Set("conn_id", connID)
	}
	return f
}

// HTTPBeacon posts queued forms from one background goroutine. Delivery
// is attempted once; failures are logged and forgotten.
type HTTPBeacon struct {
	url     string
	hc      *http.Client
	queue   chan url.Values
	once    sync.Once
	closed  chan struct{}
	drained chan struct{}
}

func NewHTTPBeacon(baseURL string, queue int, timeout time.Duration) *HTTPBeacon {
	if queue <= 0 {
		queue = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	b := &HTTPBeacon{
		url:     strings.TrimRight(baseURL, "/") + BeaconPath,
		hc:      &http.Client{Timeout: timeout},
		queue:   make(chan url.Values, queue),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	safe.Go("beacon", b.loop)
	return b
}

func (b *HTTPBeacon) Send(form url.Values) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.queue <- form:
		return true
	default:
		return false
	}
}

// Close stops accepting reports and waits until the queued ones are posted
// or ctx expires.
func (b *HTTPBeacon) Close(ctx context.Context) {
	b.once.Do(func() { close(b.closed) })
	select {
	case <-b.drained:
	case <-ctx.Done():
	}
}

func (b *HTTPBeacon) loop() {
	defer close(b.drained)
	for {
		select {
		case f := <-b.queue:
			b.post(f)
		case <-b.closed:
			for {
				select {
				case f := <-b.queue:
					b.post(f)
				default:
					return
				}
			}
		}
	}
}

func (b *HTTPBeacon) post(f url.Values) {
	resp, err := b.hc.PostForm(b.url, f)
	if err != nil {
		logger.Debug("beacon: post failed", zap.String("user_id", f.Get("user_id")), zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}
