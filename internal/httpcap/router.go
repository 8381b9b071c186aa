// Package httpcap implements the HTTP server capability exposed to the
// guest module: router construction, the worker pool that turns sockets
// into operation requests, and the shared shutdown flag the two sides of
// that pool communicate through.
package httpcap

import "github.com/flavio/hermit-wasm/internal/resource"

// Method is one of the four HTTP methods the Router capability accepts
// for registration.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPut    Method = "PUT"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// Route is one (method, path pattern, handler-name) triple. The handler
// name is stored exactly as the guest supplied it; validation (missing
// handler export) is deferred to worker startup.
type Route struct {
	Method      Method
	Pattern     string
	HandlerName string
}

// Router is the guest-visible, host-owned route list. Every append
// method below mutates the Router in place and the guest keeps using
// the same handle, even though from the guest's view each call looks
// like it returns a fresh router value.
type Router struct {
	// BaseURI is captured but never applied to matching. Its intended
	// use is unresolved; the field is preserved without guessing at a
	// prefixing behavior.
	BaseURI string
	Routes  []Route
}

// RouterCapability hands out Router handles to the guest and backs the
// four method-specific appenders. One instance lives in hoststate.State.
type RouterCapability struct {
	routers *resource.Table[*Router]
}

// NewRouterCapability constructs an empty capability.
func NewRouterCapability() *RouterCapability {
	return &RouterCapability{routers: resource.NewTable[*Router]()}
}

// New returns a handle to a fresh, empty Router.
func (c *RouterCapability) New() resource.Handle {
	return c.routers.Insert(&Router{})
}

// NewWithBase returns a handle to a fresh Router carrying the given base
// URI (reserved, currently unused — see Router.BaseURI).
func (c *RouterCapability) NewWithBase(base string) resource.Handle {
	return c.routers.Insert(&Router{BaseURI: base})
}

// Router resolves a handle back to the Router it names.
func (c *RouterCapability) Router(h resource.Handle) (*Router, error) {
	return c.routers.Get(h)
}

// Append adds a Route to the router named by h and returns h unchanged,
// preserving the guest-observed "router.get/put/post/delete returns the
// same router" value semantics.
func (c *RouterCapability) Append(h resource.Handle, method Method, pattern, handlerName string) (resource.Handle, error) {
	r, err := c.routers.Get(h)
	if err != nil {
		return h, err
	}
	r.Routes = append(r.Routes, Route{Method: method, Pattern: pattern, HandlerName: handlerName})
	return h, nil
}

// Snapshot returns a defensive copy of the router's current route list,
// used by server.serve to freeze the routes into a Server Handle. The
// frozen order is what every worker builds its matchers from; routes
// appended afterward are never observed.
func (r *Router) Snapshot() []Route {
	out := make([]Route, len(r.Routes))
	copy(out, r.Routes)
	return out
}
