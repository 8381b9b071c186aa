package wasmvm

import "errors"

// ErrHandlerNotCached is the status-400 cause for an invoke against a
// handler name the dispatcher never (successfully) registered.
var ErrHandlerNotCached = errors.New("wasmvm: handler not cached")
