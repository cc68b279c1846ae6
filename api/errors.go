package api

import (
	"fmt"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"error"`

	// Text is the raw turn text a parse error refers to, if any.
	Text string `json:"text,omitempty"`
}

func (e ErrorResponse) Error() string {
	return e.Message
}

// StatusError is an error with an HTTP status code and message,
// it is parsed on the client-side and not returned from the API
type StatusError struct {
	StatusCode   int    // e.g. 200
	Status       string // e.g. "200 OK"
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the replagent server logs for details"
	}
}
