// Package httperr defines the errors that terminate request processing and
// the HTTP status each one maps to.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a request-terminating failure with an associated HTTP status.
// Description is safe to show to clients; Detail is for logs only.
type Error struct {
	Status      int
	Description string
	Detail      string
	Cause       error
}

var (
	ErrNotAuthenticated = &Error{Status: http.StatusUnauthorized, Description: "Not authenticated"}
	ErrNotAuthorised    = &Error{Status: http.StatusForbidden, Description: "Not authorised"}
	ErrBadRequest       = &Error{Status: http.StatusBadRequest, Description: "Bad request"}
	ErrNotFound         = &Error{Status: http.StatusNotFound, Description: "Not found"}
	ErrAlreadyExists    = &Error{Status: http.StatusConflict, Description: "Already exists"}
	ErrTooManyRequests  = &Error{Status: http.StatusTooManyRequests, Description: "Too many requests"}
	ErrInternal         = &Error{Status: http.StatusInternalServerError, Description: "Internal server error"}
)

// Error returns the technical description.
func (e *Error) Error() string {
	msg := e.Description
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same status, so callers can
// match the package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Status == t.Status
	}
	return false
}

func derive(base *Error, detail string, cause error) *Error {
	return &Error{
		Status:      base.Status,
		Description: base.Description,
		Detail:      detail,
		Cause:       cause,
	}
}

// NotAuthenticated reports that no identity could be resolved where one was required.
func NotAuthenticated(detail string) *Error { return derive(ErrNotAuthenticated, detail, nil) }

// NotAuthorised reports that the resolved identity lacks a required permission.
func NotAuthorised(detail string) *Error { return derive(ErrNotAuthorised, detail, nil) }

// BadRequest reports malformed client input.
func BadRequest(detail string) *Error { return derive(ErrBadRequest, detail, nil) }

// BadRequestf formats a BadRequest detail, wrapping any %w operand as the cause.
func BadRequestf(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return derive(ErrBadRequest, err.Error(), errors.Unwrap(err))
}

func NotFound(detail string) *Error { return derive(ErrNotFound, detail, nil) }

func AlreadyExists(detail string) *Error { return derive(ErrAlreadyExists, detail, nil) }

func TooManyRequests(detail string) *Error { return derive(ErrTooManyRequests, detail, nil) }

// Internal wraps an unexpected failure. The cause is never shown to clients.
func Internal(cause error) *Error { return derive(ErrInternal, "", cause) }

// Information is the JSON body written for a failed request.
type Information struct {
	Description  string `json:"error-information"`
	ResponseCode int    `json:"response-code"`
}

// Redirect is a control-flow signal rather than a failure: the request should
// be answered with a redirect to Location.
type Redirect struct {
	Location string
	Status   int
}

func (r *Redirect) Error() string {
	return fmt.Sprintf("redirect to %s", r.Location)
}

// As converts any error into an *Error, treating unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Write renders err onto w. Redirects become a Location response; everything
// else becomes the JSON information package with the mapped status.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var redirect *Redirect
	if errors.As(err, &redirect) {
		status := redirect.Status
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, redirect.Location, status)
		return
	}

	e := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Information{
		Description:  e.Description,
		ResponseCode: e.Status,
	})
}
