package session

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNoImage          = errors.New("no image loaded")
	ErrNoLabel          = errors.New("the loaded image has no label")
	ErrInvalidLabel     = errors.New("label must be 0 (normal), 1 (pneumonia) or 2 (unknown)")
	ErrNoDataset        = errors.New("dataset does not exist")
	ErrNotEnoughSamples = errors.New("not enough samples to train")
	ErrUploadDisabled   = errors.New("dataset upload is disabled")
	ErrHistoryDisabled  = errors.New("prediction history is not available")
	ErrDownloadBusy     = errors.New("a download is already running")

	// ErrUpdateUnsupportedFormat is returned when the model is a TF_dir
	// directory, which a single release asset cannot replace.
	ErrUpdateUnsupportedFormat = errors.New("model update needs an .h5 model file")

	// ErrFatal marks internal errors that must end the session.
	ErrFatal = errors.New("fatal internal error")
)

// NotEnoughSamplesError carries the dataset size behind ErrNotEnoughSamples.
type NotEnoughSamplesError struct {
	Count int
	Min   int
}

func (e *NotEnoughSamplesError) Error() string {
	return fmt.Sprintf("dataset has %d samples, more than %d are needed (use -i to ignore)", e.Count, e.Min)
}

func (e *NotEnoughSamplesError) Is(target error) bool {
	return target == ErrNotEnoughSamples
}

// PanicError is a handler panic turned into an error. It keeps the stack of
// the panicking goroutine, which is gone by the time HandleInternal runs.
type PanicError struct {
	Value any
	Stack []byte
}

func NewPanicError(value any) *PanicError {
	return &PanicError{Value: value, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// InternalError is an unexpected failure routed through HandleInternal.
type InternalError struct {
	ID    string
	Err   error
	Fatal bool
	stack []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error %s: %v", e.ID, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func (e *InternalError) Is(target error) bool {
	return target == ErrFatal && e.Fatal
}

// Detail renders the error chain and the stack captured when it was handled.
func (e *InternalError) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", e.ID)
	for err := e.Err; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "  %v\n", err)
	}
	var pe *PanicError
	if errors.As(e.Err, &pe) {
		b.Write(pe.Stack)
	} else {
		b.Write(e.stack)
	}
	return b.String()
}

// HandleInternal logs an unexpected failure under id, reports it on the
// notification queue and returns it as an *InternalError. With stop set the
// result matches ErrFatal and the caller must end the loop.
func (s *Session) HandleInternal(id string, err error, stop bool) *InternalError {
	ie := &InternalError{ID: id, Err: err, Fatal: stop, stack: debug.Stack()}

	s.logger.Error("internal error handler",
		zap.String("id", id),
		zap.Bool("stop", stop),
		zap.Error(err),
		zap.Stack("stack"),
	)
	s.queue.Push("ERROR: Internal error info/id: " + id)
	if stop {
		s.logger.Warn("session exit requested by internal error handler", zap.String("id", id))
	}

	return ie
}
