// Package faceerr classifies pipeline failures.
//
// Every terminal error leaving the pipeline carries a Kind so hosts can tell
// a network problem from a corrupt model or a degenerate alignment:
//
//	if errors.Is(err, faceerr.ErrModelDownload) { ... }
package faceerr

import (
	"errors"
	"fmt"
)

// Kind is the error category.
type Kind string

const (
	KindModelDownload Kind = "model_download"
	KindModelLoad     Kind = "model_load"
	KindDetection     Kind = "detection"
	KindAlignment     Kind = "alignment"
	KindInference     Kind = "inference"
	KindCompositing   Kind = "compositing"
	KindState         Kind = "state"
	KindDisposed      Kind = "disposed"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrModelDownload = &Error{Kind: KindModelDownload}
	ErrModelLoad     = &Error{Kind: KindModelLoad}
	ErrDetection     = &Error{Kind: KindDetection}
	ErrAlignment     = &Error{Kind: KindAlignment}
	ErrInference     = &Error{Kind: KindInference}
	ErrCompositing   = &Error{Kind: KindCompositing}
	ErrState         = &Error{Kind: KindState}
	ErrDisposed      = &Error{Kind: KindDisposed}
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "download", "detect"
	Err  error
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Classify returns err unchanged if it already carries a kind, otherwise
// wraps it with kind.
func Classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return New(kind, op, err)
}
