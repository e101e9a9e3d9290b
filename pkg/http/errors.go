package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	ErrHeadNotSupported     = errors.New("HEAD method not supported by server")
	ErrRangesNotSupported   = errors.New("byte ranges not supported by server")
	ErrInvalidContentRange  = errors.New("invalid Content-Range header")
	ErrRangeNotSatisfiable  = errors.New("requested range not satisfiable (416)")
	ErrNotImplemented       = errors.New("not implemented (501)")
	ErrUnexpectedRangeStart = errors.New("range start in Content-Range differs from the requested offset")
	ErrShortBody            = errors.New("response body shorter than requested range")

	ErrTimeout         = errors.New("operation timed out")
	ErrNetworkProblem  = errors.New("network-related error")
	ErrIOProblem       = errors.New("I/O error")
	ErrRequestCreation = errors.New("failed to create request")

	ErrServerProblem    = errors.New("server error (5xx)")
	ErrTooManyRequests  = errors.New("too many requests (429)")
	ErrResourceNotFound = errors.New("resource not found (404)")
	ErrAccessDenied     = errors.New("access denied (403)")
	ErrAuthentication   = errors.New("authentication required (401)")
	ErrGone             = errors.New("resource gone (410)")
	ErrClientRequest    = errors.New("client error (4xx)")

	ErrUnknown       = errors.New("unknown error")
	ErrUnexpectedEOF = errors.New("unexpected EOF")
)

// StatusError carries the status code of a failed response next to its sentinel.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	return 0
}

// ClassifyHTTPError converts an HTTP status code into an appropriate error.
func ClassifyHTTPError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusGone:
		return ErrGone
	case http.StatusMethodNotAllowed:
		return ErrHeadNotSupported
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	case http.StatusNotImplemented:
		return ErrNotImplemented
	default:
		switch {
		case statusCode >= http.StatusInternalServerError:
			return ErrServerProblem
		case statusCode >= http.StatusBadRequest:
			return ErrClientRequest
		default:
			return nil
		}
	}
}

// ClassifyError categorizes a general error into a sentinel error.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	if errors.Is(err, io.EOF) {
		return ErrUnexpectedEOF
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}

		return fmt.Errorf("%w: %v", ErrNetworkProblem, err)
	}

	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// IsRetryable reports whether a request that failed with err may succeed when repeated.
func IsRetryable(err error) bool {
	for _, target := range []error{
		ErrNetworkProblem,
		ErrServerProblem,
		ErrTooManyRequests,
		ErrTimeout,
		ErrUnexpectedEOF,
		ErrShortBody,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// IsFallbackError checks if the error requires fallback during probing.
func IsFallbackError(err error) bool {
	return errors.Is(err, ErrHeadNotSupported) ||
		errors.Is(err, ErrRangesNotSupported) ||
		errors.Is(err, ErrUnexpectedEOF) ||
		errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrClientRequest)
}
