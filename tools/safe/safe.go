package safe

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"PPresence/logger"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Used by constructors for required collaborators.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	Go("anonymous", f)
}

// Go is SafeGo with a name for the log line.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic; call it deferred.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[SafeGo] panic recovered",
			zap.String("name", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
	}
}
