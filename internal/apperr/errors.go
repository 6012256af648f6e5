// Package apperr defines the error kinds shared by the ingestion pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindFetch
	KindData
	KindParser
	KindConfiguration
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "Connection"
	case KindFetch:
		return "Fetch"
	case KindData:
		return "Data"
	case KindParser:
		return "Parser"
	case KindConfiguration:
		return "Configuration"
	case KindStore:
		return "Store"
	default:
		return "Unknown"
	}
}

// Error carries a kind, a human readable message and the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind so callers can use
// errors.Is(err, &apperr.Error{Kind: apperr.KindFetch}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Connectionf(err error, format string, args ...interface{}) *Error {
	return newf(KindConnection, err, format, args...)
}

func Fetchf(err error, format string, args ...interface{}) *Error {
	return newf(KindFetch, err, format, args...)
}

func Dataf(err error, format string, args ...interface{}) *Error {
	return newf(KindData, err, format, args...)
}

func Parserf(err error, format string, args ...interface{}) *Error {
	return newf(KindParser, err, format, args...)
}

func Configurationf(err error, format string, args ...interface{}) *Error {
	return newf(KindConfiguration, err, format, args...)
}

func Storef(err error, format string, args ...interface{}) *Error {
	return newf(KindStore, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
