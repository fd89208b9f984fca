package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
)

// ErrDisposed is returned by Derive when the source has already been disposed.
// Controller methods never return it: calls on a disposed Controller are
// silent no-ops.
var ErrDisposed = errors.New("notify: controller disposed")

// ListenerError reports a listener that panicked during dispatch.
// The pass continues with the remaining listeners.
type ListenerError struct {
	// Controller is the name of the notifying controller.
	Controller string

	// Key is the notified key; nil for a global notification.
	Key any

	// Listener is the ID of the failing listener.
	Listener uint64

	// Kind is the callback shape of the failing listener.
	Kind Kind

	// Value is the recovered panic value.
	Value any

	// Stack is the stack captured at recovery.
	Stack string
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("notify: listener %d on %q (key %v) panicked: %v", e.Listener, e.Controller, e.Key, e.Value)
	}
	return fmt.Sprintf("notify: listener %d on %q panicked: %v", e.Listener, e.Controller, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *ListenerError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SelectorError reports a derived-value selector that panicked.
type SelectorError struct {
	// Controller is the name of the derived value.
	Controller string

	// Initial is true when the failure happened while constructing the value.
	Initial bool

	// Value is the recovered panic value.
	Value any

	// Stack is the stack captured at recovery.
	Stack string
}

// Error implements the error interface.
func (e *SelectorError) Error() string {
	if e.Initial {
		return fmt.Sprintf("notify: selector for %q panicked during construction: %v", e.Controller, e.Value)
	}
	return fmt.Sprintf("notify: selector for %q panicked during recompute: %v", e.Controller, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *SelectorError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// EqualityError reports an equality function that panicked while a Value
// compared its current and next values. The value is left unchanged.
type EqualityError struct {
	// Controller is the name of the value.
	Controller string

	// Value is the recovered panic value.
	Value any

	// Stack is the stack captured at recovery.
	Stack string
}

// Error implements the error interface.
func (e *EqualityError) Error() string {
	return fmt.Sprintf("notify: equality check for %q panicked: %v", e.Controller, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *EqualityError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ErrorSink receives errors recovered by controllers.
type ErrorSink interface {
	ReportError(err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(err error)

// ReportError calls f(err).
func (f ErrorSinkFunc) ReportError(err error) {
	f(err)
}

// LogSink is the default ErrorSink. It logs through Logger, or through
// slog.Default() when Logger is nil.
type LogSink struct {
	Logger *slog.Logger

	// Verbose includes the captured stack in the log record.
	Verbose bool
}

// ReportError logs err at error level.
func (s *LogSink) ReportError(err error) {
	if err == nil {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{slog.Any("error", err)}
	var le *ListenerError
	var se *SelectorError
	var ee *EqualityError
	switch {
	case errors.As(err, &le):
		attrs = append(attrs,
			slog.String("controller", le.Controller),
			slog.Uint64("listener", le.Listener),
			slog.String("kind", le.Kind.String()),
		)
		if le.Key != nil {
			attrs = append(attrs, slog.Any("key", le.Key))
		}
		if s.Verbose {
			attrs = append(attrs, slog.String("stack", le.Stack))
		}
		logger.Error("Listener failed", attrs...)
	case errors.As(err, &se):
		attrs = append(attrs, slog.String("controller", se.Controller))
		if s.Verbose {
			attrs = append(attrs, slog.String("stack", se.Stack))
		}
		logger.Error("Selector failed", attrs...)
	case errors.As(err, &ee):
		attrs = append(attrs, slog.String("controller", ee.Controller))
		if s.Verbose {
			attrs = append(attrs, slog.String("stack", ee.Stack))
		}
		logger.Error("Equality check failed", attrs...)
	default:
		logger.Error("Notification error", attrs...)
	}
}

// captureStack returns the current call stack, skipping the recovery frames.
func captureStack() string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(4, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		sb.WriteString(frame.Function)
		sb.WriteString("\n\t")
		sb.WriteString(frame.File)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteString("\n")
		if !more {
			break
		}
	}
	return sb.String()
}
