package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"PPresence/module/presence/model"
	"PPresence/tools/errs"
)

// API is the presence HTTP surface the tracker talks to.
type API interface {
	SetStatus(ctx context.Context, userID int64, connID string, status model.Status, force bool) error
	Heartbeat(ctx context.Context, userID int64, connID string) error
	CheckLockStatus(ctx context.Context, userID int64) (*model.LockStatusResult, error)
	PostBeaconSync(ctx context.Context, form url.Values) error
}

type HTTPClient struct {
	BaseURL string
	Token   string
	HC      *http.Client
}

var _ API = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HC:      &http.Client{Timeout: timeout},
	}
}

// envelope mirrors apiresp.ApiResponse with a deferred data field.
type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Detail string          `json:"detail"`
	Data   json.RawMessage `json:"data"`
}

func (c *HTTPClient) SetStatus(ctx context.Context, userID int64, connID string, status model.Status, force bool) error {
	body := map[string]any{
		"user_id":   userID,
		"status":    status,
		"conn_id":   connID,
		"force":     force,
		"timestamp": time.Now().UnixMilli(),
	}
	return c.do(ctx, http.MethodPost, "/api/users/status-update", body, nil)
}

func (c *HTTPClient) Heartbeat(ctx context.Context, userID int64, connID string) error {
	return c.do(ctx, http.MethodPost, "/api/users/heartbeat", map[string]any{"user_id": userID, "conn_id": connID}, nil)
}

func (c *HTTPClient) CheckLockStatus(ctx context.Context, userID int64) (*model.LockStatusResult, error) {
	var out model.LockStatusResult
	if err := c.do(ctx, http.MethodGet, "/api/users/check-lock-status/"+strconv.FormatInt(userID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostBeaconSync sends the teardown form in the foreground.
func (c *HTTPClient) PostBeaconSync(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+BeaconPath, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.WrapMsg(err, "build beacon request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HC.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "post beacon")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errs.New("beacon rejected", "status", resp.StatusCode).Wrap()
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.WrapMsg(err, "marshal request", "path", path)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return errs.WrapMsg(err, "build request", "path", path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "request failed", "path", path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return errs.WrapMsg(err, "decode response", "path", path, "status", resp.StatusCode)
	}
	if env.Code != 0 {
		// keep the server's code so callers can errs.ErrUserLocked.Is(err)
		return errs.NewCodeError(env.Code, env.Msg).WithDetail(env.Detail).Wrap()
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errs.WrapMsg(err, "decode data", "path", path)
		}
	}
	return nil
}
