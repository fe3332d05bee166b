package transport

import (
	"fmt"
	"sync"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// Logger interface for optional logging.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// link holds the callback and state plumbing shared by every transport.
type link struct {
	stateMu sync.Mutex
	state   linkstate.State

	callbackMu sync.RWMutex
	onFrame    func([]byte)
	onState    func(linkstate.State)

	loggerMu sync.RWMutex
	logger   Logger
}

// SetOnFrame sets the callback for frames received from the device.
// Panics in the callback are recovered and logged.
func (l *link) SetOnFrame(callback func(frame []byte)) {
	l.callbackMu.Lock()
	l.onFrame = callback
	l.callbackMu.Unlock()
}

// SetOnStateChange sets the callback for link transitions.
func (l *link) SetOnStateChange(callback func(linkstate.State)) {
	l.callbackMu.Lock()
	l.onState = callback
	l.callbackMu.Unlock()
}

// SetLogger sets the logger for this transport.
func (l *link) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// State returns the current link state.
func (l *link) State() linkstate.State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// setState records s and reports it when it differs from the current
// state. stateMu is held across the callback so transitions are reported
// in the order they happen.
func (l *link) setState(s linkstate.State) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state == s {
		return
	}
	l.state = s

	l.callbackMu.RLock()
	cb := l.onState
	l.callbackMu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

// deliver hands one frame to the frame callback.
func (l *link) deliver(frame []byte) {
	l.callbackMu.RLock()
	cb := l.onFrame
	l.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logError("frame callback panic", fmt.Errorf("%v", r))
		}
	}()
	cb(frame)
}

func (l *link) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// logInfo logs an info message if logger is set.
func (l *link) logInfo(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (l *link) logDebug(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (l *link) logError(msg string, err error, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
