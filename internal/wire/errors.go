package wire

import (
	"errors"
	"net/http"
)

var (
	// ErrTruncatedRequest means the peer went away (or timed out) before a
	// whole message arrived. No response is written for it.
	ErrTruncatedRequest = errors.New("truncated request")

	ErrEmptyRequest       = errors.New("empty request")
	ErrMalformedStartLine = errors.New("malformed start line")
	ErrHeaderTooLarge     = errors.New("header block too large")
	ErrBodyTooLarge       = errors.New("body too large")
	// ErrConflictingLength is a repeated Content-Length with differing values.
	ErrConflictingLength = errors.New("conflicting content-length headers")
)

// StatusFor maps a framing or parse error to the status code sent back to
// the client. ok is false when the connection should be closed silently.
func StatusFor(err error) (code int, ok bool) {
	switch {
	case errors.Is(err, ErrTruncatedRequest):
		return 0, false
	case errors.Is(err, ErrHeaderTooLarge):
		return http.StatusRequestHeaderFieldsTooLarge, true
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, true
	case errors.Is(err, ErrEmptyRequest), errors.Is(err, ErrMalformedStartLine), errors.Is(err, ErrConflictingLength):
		return http.StatusBadRequest, true
	default:
		return http.StatusBadRequest, true
	}
}

// ErrorKind names err for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTruncatedRequest):
		return "truncated"
	case errors.Is(err, ErrHeaderTooLarge):
		return "header_too_large"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(err, ErrEmptyRequest):
		return "empty"
	case errors.Is(err, ErrMalformedStartLine):
		return "malformed_start_line"
	case errors.Is(err, ErrConflictingLength):
		return "conflicting_length"
	default:
		return "other"
	}
}
