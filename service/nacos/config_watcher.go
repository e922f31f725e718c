package nacos

import (
	"context"
	"sync"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigSource is the subset of the nacos config client the watcher uses.
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// ApplyFunc receives every config revision, the initial one included.
type ApplyFunc func(data string) error

type Watcher struct {
	src    ConfigSource
	dataID string
	group  string
	apply  ApplyFunc

	mu      sync.RWMutex
	current string
}

func NewWatcher(src ConfigSource, dataID, group string, apply ApplyFunc) *Watcher {
	return &Watcher{src: src, dataID: dataID, group: group, apply: apply}
}

// Start loads the current document and listens for changes until ctx ends.
// A missing or invalid initial document is logged, not fatal.
func (w *Watcher) Start(ctx context.Context) error {
	param := vo.ConfigParam{DataId: w.dataID, Group: w.group}

	content, err := w.src.GetConfig(param)
	if err != nil {
		logger.Warn("nacos: get config", zap.String("data_id", w.dataID), zap.Error(err))
	} else if content != "" {
		w.update(content)
	}

	param.OnChange = func(_, _, _, data string) { w.update(data) }
	if err := w.src.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "nacos listen config", "data_id", w.dataID, "group", w.group)
	}

	go func() {
		<-ctx.Done()
		_ = w.src.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	}()
	return nil
}

func (w *Watcher) update(data string) {
	w.mu.Lock()
	w.current = data
	w.mu.Unlock()
	if w.apply == nil {
		return
	}
	if err := w.apply(data); err != nil {
		logger.Warn("nacos: rejected config revision", zap.String("data_id", w.dataID), zap.Error(err))
		return
	}
	logger.Info("nacos: config applied", zap.String("data_id", w.dataID))
}

// Current returns the last document seen, applied or not.
func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
