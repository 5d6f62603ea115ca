package llm

import "errors"

// Generation errors fall into two classes: transient failures worth retrying
// (timeouts, rate limits, flaky networks) and fatal ones that will fail the
// same way every time (bad credentials, malformed requests).

// TransientError marks an error as retryable.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks an error as permanent.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as permanent.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err is permanent.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
