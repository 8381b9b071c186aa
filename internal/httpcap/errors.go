package httpcap

import "errors"

var (
	// ErrHandlerRegistrationFailed is the sentinel a worker wraps its
	// fatal exit reason in when a route's handler cannot be resolved in
	// the guest.
	ErrHandlerRegistrationFailed = errors.New("httpcap: handler registration failed")
	// ErrNoServer is logged as a warning by Bootstrap, which then returns
	// nil, when the guest's initializer never called server.serve.
	ErrNoServer = errors.New("httpcap: guest never called server.serve")
)
