package worker

import "errors"

// nonRetryableError marks a handler failure as final: the server should not
// attempt this job again.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so the runtime reports the job failure with
// retry=false. Use it for errors that will never succeed on replay, such as
// a permanently malformed payload.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

func isNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
