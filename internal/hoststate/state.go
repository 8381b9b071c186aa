// Package hoststate aggregates the key/value and HTTP-server capability
// contexts the guest module is linked against, and implements the single
// observer Bootstrap needs: whether the guest's initializer ever called
// server.serve.
package hoststate

import (
	"github.com/flavio/hermit-wasm/internal/httpcap"
	"github.com/flavio/hermit-wasm/internal/keyvalue"
)

// State bundles one key/value context and one HTTP-server context, each
// pairing its implementor with its own resource table.
type State struct {
	KeyValue *keyvalue.Store
	Routers  *httpcap.RouterCapability
	Servers  *httpcap.ServerCapability
}

// New constructs an empty State around an already-built key/value store.
func New(kv *keyvalue.Store) *State {
	return &State{
		KeyValue: kv,
		Routers:  httpcap.NewRouterCapability(),
		Servers:  httpcap.NewServerCapability(),
	}
}

// Server reports whether the guest's initializer called server.serve,
// and if so, the handle it produced. This is the single observer
// Bootstrap reads to decide whether to enter the serving loop.
func (s *State) Server() (*httpcap.ServerHandle, bool) {
	return s.Servers.Current()
}
