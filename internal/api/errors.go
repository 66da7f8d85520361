package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the support API.
type Error struct {
	// Status is the HTTP response status code.
	Status int

	// Code is the machine-readable error code, when the server sent one.
	Code string

	// Message is the human-readable description.
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsRejected reports whether the server refused the request itself, as
// opposed to failing to process it.
func IsRejected(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

func parseError(status int, body []byte) *Error {
	apiErr := &Error{Status: status}

	var wire struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		apiErr.Message = wire.Error
		apiErr.Code = wire.Code
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	} else {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
