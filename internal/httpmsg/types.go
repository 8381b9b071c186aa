// Package httpmsg holds the wire-level request/response vocabulary that
// crosses the operation channel between the HTTP worker pool and the VM
// dispatcher, and the typed HTTP errors a guest handler may return
// instead of a Response.
package httpmsg

import "fmt"

// Pair is an ordered (name, value) pair — used for both headers and
// extracted path parameters.
type Pair struct {
	Name  string
	Value string
}

// Request is the host-side view of an inbound HTTP request, fully
// buffered before it ever reaches the guest.
type Request struct {
	Method  string
	URI     string
	Headers []Pair
	Params  []Pair
	// Body is always non-nil: an inbound request with no body is
	// represented as an empty slice, never a nil/absent marker.
	Body []byte
}

// Response is a guest-produced HTTP response.
type Response struct {
	Status int
	// Headers is nil when the guest supplied none.
	Headers []Pair
	// Body is nil when the guest supplied no body, as opposed to an
	// explicit empty body ([]byte{}).
	Body []byte
}

// ErrorKind enumerates the typed HTTP errors a guest handler's return
// value may carry instead of a Response.
type ErrorKind int

const (
	KindInvalidUrl ErrorKind = iota
	KindTimeoutError
	KindProtocolError
	KindStatusError
	KindUnexpectedError
)

// TypedError is a guest-returned (or host-synthesized) classified HTTP
// failure. It implements error so it can travel through normal Go
// error-handling paths inside the dispatcher and ABI layers.
type TypedError struct {
	Kind ErrorKind
	// Message carries the error text for every kind except StatusError,
	// whose body is always the fixed string "Unexpected error".
	Message string
	// StatusCode is only meaningful when Kind == KindStatusError.
	StatusCode int
}

func (e *TypedError) Error() string {
	return fmt.Sprintf("httpmsg: %s", e.Message)
}

// HTTPStatus maps a TypedError to the outbound status code.
func (e *TypedError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidUrl:
		return 400
	case KindTimeoutError:
		return 408
	case KindProtocolError:
		return 400
	case KindStatusError:
		return e.StatusCode
	default:
		return 500
	}
}

// HTTPBody returns the outbound response body text for a TypedError.
func (e *TypedError) HTTPBody() string {
	if e.Kind == KindStatusError {
		return "Unexpected error"
	}
	return e.Message
}

// StatusError constructs the fixed synthetic error the dispatcher and
// ABI layer use for marshaling failures, cache misses, and VM traps —
// always reported as a plain numeric status with no message.
func StatusError(code int) *TypedError {
	return &TypedError{Kind: KindStatusError, StatusCode: code}
}

// InvokeResult is what an InvokeHandlerOp's reply channel carries: either
// a guest Response or a TypedError, never both.
type InvokeResult struct {
	Response *Response
	Err      *TypedError
}
