package httpcap

import (
	"sync/atomic"

	"github.com/flavio/hermit-wasm/internal/resource"
)

// ServerHandle is the host-side record that pairs a bind address with the
// shared shutdown flag. It is cloned freely by value — the KeepGoing
// pointer is what makes every clone observe the same flag.
type ServerHandle struct {
	Address   string
	Routes    []Route
	KeepGoing *atomic.Bool
}

// Stopped reports whether server.stop has been called on this handle (or
// any clone sharing its KeepGoing flag).
func (h ServerHandle) Stopped() bool {
	return !h.KeepGoing.Load()
}

// ServerCapability implements server.serve and server.stop. It holds the
// single Server Handle the guest creates during initialization — one
// guest module per process, hence at most one server.
type ServerCapability struct {
	servers *resource.Table[*ServerHandle]
	current *ServerHandle
}

// NewServerCapability constructs an empty capability.
func NewServerCapability() *ServerCapability {
	return &ServerCapability{servers: resource.NewTable[*ServerHandle]()}
}

// Serve clones the router's current route list into a new Server Handle,
// stores it as "the server", and returns a handle to the guest. No
// socket is opened here; Bootstrap reads the stored handle after the
// guest's initializer returns and does the listening itself.
func (c *ServerCapability) Serve(address string, router *Router) resource.Handle {
	sh := &ServerHandle{
		Address:   address,
		Routes:    router.Snapshot(),
		KeepGoing: &atomic.Bool{},
	}
	sh.KeepGoing.Store(true)
	c.current = sh
	return c.servers.Insert(sh)
}

// Stop sets the captured keep-going flag to false. The transition is
// one-way: once false, KeepGoing never flips back true.
func (c *ServerCapability) Stop(h resource.Handle) error {
	sh, err := c.servers.Get(h)
	if err != nil {
		return err
	}
	sh.KeepGoing.Store(false)
	return nil
}

// Current returns the Server Handle stored by the most recent Serve call,
// if any. Bootstrap uses this as its single observer: is there a server
// to run at all?
func (c *ServerCapability) Current() (*ServerHandle, bool) {
	if c.current == nil {
		return nil, false
	}
	return c.current, true
}
