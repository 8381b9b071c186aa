package keyvalue

import "errors"

// ErrConnectionError covers pool exhaustion and network failures reaching
// the Redis backend.
var ErrConnectionError = errors.New("keyvalue: connection error")

// ErrKeyNotFound is returned for a get() against a key whose namespaced
// physical key is absent or empty in the backend.
var ErrKeyNotFound = errors.New("keyvalue: key not found")

// ErrUnexpectedError covers every other backend failure (malformed
// responses, command errors that aren't connection failures).
var ErrUnexpectedError = errors.New("keyvalue: unexpected backend error")
