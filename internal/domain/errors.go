package domain

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform means the link matched no configured platform rule
// (or the rule references no configured endpoint). Messages that trigger it
// are passed through unanswered.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// ErrCacheMiss is the non-error miss signal from Cache.Get.
var ErrCacheMiss = errors.New("cache miss")

// UpstreamError is a failure talking to a third-party parsing API: transport
// error, non-2xx HTTP status, or a non-success code in the response envelope.
type UpstreamError struct {
	Endpoint string
	Status   int    // HTTP status, 0 on transport errors
	Code     int    // upstream envelope code, 0 when absent
	Msg      string // upstream-provided message, if any
	Err      error  // underlying transport error, if any
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("upstream %s: %s (status=%d code=%d)", e.Endpoint, e.Msg, e.Status, e.Code)
	default:
		return fmt.Sprintf("upstream %s: status=%d code=%d", e.Endpoint, e.Status, e.Code)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
