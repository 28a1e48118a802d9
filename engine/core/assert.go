package core

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
)

// AbortHandler is called once an assertion has been logged. The default
// handler terminates the process.
type AbortHandler func(msg string)

var (
	abortMu      sync.RWMutex
	abortHandler AbortHandler = func(msg string) { LogFatal(msg) }
)

// SetAbortHandler replaces the abort handler and returns the previous one.
func SetAbortHandler(h AbortHandler) AbortHandler {
	abortMu.Lock()
	defer abortMu.Unlock()
	prev := abortHandler
	abortHandler = h
	return prev
}

func abort(skip int, msg string) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if ok {
		msg = fmt.Sprintf("%s:%d: %s", filepath.Base(file), line, msg)
	}
	LogError("assertion failed: %s", msg)

	abortMu.RLock()
	h := abortHandler
	abortMu.RUnlock()
	h(msg)
}

// Assert aborts when cond is false. There is no degraded mode for GPU state,
// so callers use it for conditions that make the frame unrecoverable.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	abort(1, fmt.Sprintf(format, args...))
}

// Must aborts when err is not nil, prefixing the message with what.
func Must(err error, what string) {
	if err == nil {
		return
	}
	abort(1, fmt.Sprintf("%s: %v", what, err))
}
