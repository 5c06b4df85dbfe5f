package report

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration failures.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindDecode
	KindOCR
	KindGenerate
	KindTimeout
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindDecode:
		return "decode"
	case KindOCR:
		return "ocr"
	case KindGenerate:
		return "generate"
	case KindTimeout:
		return "timeout"
	case KindStore:
		return "store"
	default:
		return "internal"
	}
}

var (
	ErrNotImage = errors.New("Upload an image file (PNG/JPG).")
	ErrNoText   = errors.New("No readable text found in image.")
	ErrDecode   = errors.New("cannot decode image")
	ErrTimeout  = errors.New("operation timed out")
)

// Error is returned by Service operations. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindBadRequest {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel that corresponds to the kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDecode:
		return e.Kind == KindDecode
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsBadRequest reports whether err was caused by the client's input.
func IsBadRequest(err error) bool {
	return KindOf(err) == KindBadRequest
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
