package polla

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSource is returned for source names missing from the registry.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrMissingURL marks a source with no override and no discovered candidates.
	ErrMissingURL = errors.New("source skipped: missing URL")
	// ErrSourceExhausted marks a source whose candidate URLs all failed.
	ErrSourceExhausted = errors.New("all candidate URLs failed")
	// ErrNoData is returned by parsers that found no usable rows.
	ErrNoData = errors.New("no usable data found")
	// ErrInvalidAmount is returned for negative prize amounts or winner counts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNoCategories aborts a run whose loaded sources yielded no categories.
	ErrNoCategories = errors.New("no prize categories available after parsing all sources")
	// ErrRunAborted wraps the first source failure when fail_fast is set.
	ErrRunAborted = errors.New("run aborted")
)

// ErrorKind groups source failures for reporting.
type ErrorKind string

// Source failure kinds.
const (
	KindTransient  ErrorKind = "transient"
	KindConfig     ErrorKind = "config"
	KindMissingURL ErrorKind = "missing_url"
	KindExhausted  ErrorKind = "exhausted"
)

// SourceError is the structured failure produced by the loader.
type SourceError struct {
	Source string
	URL    string
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("source %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Failure converts the error to its report form.
func (e *SourceError) Failure() Failure {
	f := Failure{Source: e.Source, Error: e.Err.Error()}
	if e.URL != "" {
		u := e.URL
		f.URL = &u
	}
	return f
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
