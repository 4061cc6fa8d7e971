package message

import (
	"errors"
	"fmt"
)

// Handler turns a request into a response. Implementations must not block
// indefinitely.
type Handler interface {
	Respond(req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) (*Response, error)

func (f HandlerFunc) Respond(req *Request) (*Response, error) { return f(req) }

// Responder is implemented by errors that know how to present themselves as
// a response.
type Responder interface {
	Response() *Response
}

// HTTPError is an error carrying the status it should be answered with.
type HTTPError struct {
	Status  Status
	Message string // sent to the client as the body; may be empty
	Err     error
}

// Errorf returns an HTTPError for code with a formatted client message.
func Errorf(code int, format string, args ...any) *HTTPError {
	return &HTTPError{Status: NewStatus(code), Message: fmt.Sprintf(format, args...)}
}

// NewError returns an HTTPError for code wrapping err. err is not shown to
// the client.
func NewError(code int, err error) *HTTPError {
	return &HTTPError{Status: NewStatus(code), Err: err}
}

func (e *HTTPError) Error() string {
	msg := e.Status.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Response implements Responder.
func (e *HTTPError) Response() *Response {
	body := e.Message
	if body == "" {
		body = e.Status.Phrase()
	}
	r := Text(e.Status.Code, body)
	r.Status = e.Status
	return r
}

// ResponseFor converts err to a response: errors implementing Responder use
// their own mapping, everything else becomes a bare 500.
func ResponseFor(err error) *Response {
	var r Responder
	if errors.As(err, &r) {
		if resp := r.Response(); resp != nil {
			return resp
		}
	}
	return Text(500, StatusText(500))
}
