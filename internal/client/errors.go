package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
)

var (
	// ErrNotFound marks an upstream "resource does not exist" answer. It is an
	// expected absence, not a failure.
	ErrNotFound        = errors.New("resource not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrRejected        = errors.New("request rejected")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// StatusError is a non-2xx upstream answer. Title and Detail come from the
// problem+json body when the upstream sends one.
type StatusError struct {
	Code   int
	Title  string
	Detail string
	// ProblemStatus is the "status" member of the problem body, which can
	// disagree with Code when a proxy rewrites the response.
	ProblemStatus int
	kind          error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%v: HTTP %d", e.kind, e.Code)
	if e.Title != "" {
		msg += " " + e.Title
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// IsNotFound reports whether err means the upstream resource does not exist.
// It recognizes the sentinel, the HTTP status and the problem body status. A
// StatusError is judged by its statuses alone; only other errors fall back to
// matching the message text.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound || se.ProblemStatus == http.StatusNotFound
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "status 404") ||
		strings.Contains(msg, "http 404")
}
