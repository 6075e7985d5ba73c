package poster

import "errors"

// ErrPostFailed matches both PostError and RateLimitError via errors.Is.
var ErrPostFailed = errors.New("post failed")

// PostError means the platform rejected the post or the transport failed
// after retries were exhausted.
type PostError struct {
	Msg string
	Err error
}

func (e *PostError) Error() string        { return e.Msg }
func (e *PostError) Unwrap() error        { return e.Err }
func (e *PostError) Is(target error) bool { return target == ErrPostFailed }

// RateLimitError is a 429 that outlived every retry. Reset carries the
// x-rate-limit-reset hint, or "" when the platform sent none.
type RateLimitError struct {
	Reset string
}

func (e *RateLimitError) Error() string {
	reset := e.Reset
	if reset == "" {
		reset = "unknown"
	}
	return "Rate limit exceeded. Reset at: " + reset
}

func (e *RateLimitError) Is(target error) bool { return target == ErrPostFailed }
