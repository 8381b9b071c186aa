package hoststate

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/flavio/hermit-wasm/internal/abi"
	"github.com/flavio/hermit-wasm/internal/httpcap"
	"github.com/flavio/hermit-wasm/internal/httpmsg"
	"github.com/flavio/hermit-wasm/internal/keyvalue"
	"github.com/flavio/hermit-wasm/internal/resource"
)

// RegisterHostFunctions builds the "keyvalue" and "httpserver" host
// modules the guest imports from, wiring every capability call back into
// state. wazero supplies the calling instance's api.Module to every host
// function, which is how each call reaches the guest's own
// canonical_abi_realloc/free/memory without needing them resolved ahead
// of guest instantiation.
func RegisterHostFunctions(ctx context.Context, rt wazero.Runtime, state *State) error {
	if err := registerKeyvalue(ctx, rt, state); err != nil {
		return err
	}
	return registerHTTPServer(ctx, rt, state)
}

func registerKeyvalue(ctx context.Context, rt wazero.Runtime, state *State) error {
	b := rt.NewHostModuleBuilder("keyvalue")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			logrus.WithError(err).Error("hoststate: keyvalue.open: resolve memory")
			return 0
		}
		name, err := abi.ReadBytes(io, namePtr, nameLen)
		if err != nil {
			logrus.WithError(err).Error("hoststate: keyvalue.open: read namespace name")
			return 0
		}
		return uint64(state.KeyValue.Open(string(name)))
	}).Export("open")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64, keyPtr, keyLen, retPtr uint32) uint32 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return kvTagUnexpected
		}
		ns, err := state.KeyValue.Namespace(resource.Handle(handle))
		if err != nil {
			return kvTagUnexpected
		}
		key, err := abi.ReadBytes(io, keyPtr, keyLen)
		if err != nil {
			return kvTagUnexpected
		}
		val, err := ns.Get(ctx, string(key))
		switch {
		case err == nil:
			ptr, length, werr := abi.WriteBytes(ctx, io, val)
			if werr != nil {
				return kvTagUnexpected
			}
			writeRetPair(io, retPtr, ptr, length)
			return kvTagOK
		case errors.Is(err, keyvalue.ErrKeyNotFound):
			return kvTagNotFound
		case errors.Is(err, keyvalue.ErrConnectionError):
			return kvTagConnection
		default:
			return kvTagUnexpected
		}
	}).Export("get")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return kvTagUnexpected
		}
		ns, err := state.KeyValue.Namespace(resource.Handle(handle))
		if err != nil {
			return kvTagUnexpected
		}
		key, err := abi.ReadBytes(io, keyPtr, keyLen)
		if err != nil {
			return kvTagUnexpected
		}
		val, err := abi.ReadBytes(io, valPtr, valLen)
		if err != nil {
			return kvTagUnexpected
		}
		if err := ns.Set(ctx, string(key), val); err != nil {
			if errors.Is(err, keyvalue.ErrConnectionError) {
				return kvTagConnection
			}
			return kvTagUnexpected
		}
		return kvTagOK
	}).Export("set")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64, retPtr uint32) uint32 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return kvTagUnexpected
		}
		ns, err := state.KeyValue.Namespace(resource.Handle(handle))
		if err != nil {
			return kvTagUnexpected
		}
		keys, err := ns.Keys(ctx)
		if err != nil {
			return kvTagUnexpected
		}
		ptr, length, err := writeStringList(ctx, io, keys)
		if err != nil {
			return kvTagUnexpected
		}
		writeRetPair(io, retPtr, ptr, length)
		return kvTagOK
	}).Export("keys")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64, keyPtr, keyLen uint32) uint32 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return kvTagUnexpected
		}
		ns, err := state.KeyValue.Namespace(resource.Handle(handle))
		if err != nil {
			return kvTagUnexpected
		}
		key, err := abi.ReadBytes(io, keyPtr, keyLen)
		if err != nil {
			return kvTagUnexpected
		}
		if err := ns.Delete(ctx, string(key)); err != nil {
			return kvTagUnexpected
		}
		return kvTagOK
	}).Export("delete")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64) uint32 {
		if err := state.KeyValue.Close(resource.Handle(handle)); err != nil {
			return kvTagUnexpected
		}
		return kvTagOK
	}).Export("close")

	_, err := b.Instantiate(ctx)
	return err
}

func registerHTTPServer(ctx context.Context, rt wazero.Runtime, state *State) error {
	b := rt.NewHostModuleBuilder("httpserver")

	b.NewFunctionBuilder().WithFunc(func() uint64 {
		return uint64(state.Routers.New())
	}).Export("router_new")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, basePtr, baseLen uint32) uint64 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return 0
		}
		base, err := abi.ReadBytes(io, basePtr, baseLen)
		if err != nil {
			return 0
		}
		return uint64(state.Routers.NewWithBase(string(base)))
	}).Export("router_new_with_base")

	for method, export := range map[httpcap.Method]string{
		httpcap.MethodGet:    "router_get",
		httpcap.MethodPut:    "router_put",
		httpcap.MethodPost:   "router_post",
		httpcap.MethodDelete: "router_delete",
	} {
		method := method
		b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, handle uint64, pathPtr, pathLen, namePtr, nameLen uint32) uint64 {
			io, err := abi.ResolveMemIO(mod)
			if err != nil {
				return handle
			}
			path, err := abi.ReadBytes(io, pathPtr, pathLen)
			if err != nil {
				return handle
			}
			name, err := abi.ReadBytes(io, namePtr, nameLen)
			if err != nil {
				return handle
			}
			h, err := state.Routers.Append(resource.Handle(handle), method, string(path), string(name))
			if err != nil {
				logrus.WithError(err).Error("hoststate: router append on unknown handle")
			}
			return uint64(h)
		}).Export(export)
	}

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, addrPtr, addrLen uint32, routerHandle uint64) uint64 {
		io, err := abi.ResolveMemIO(mod)
		if err != nil {
			return 0
		}
		addr, err := abi.ReadBytes(io, addrPtr, addrLen)
		if err != nil {
			return 0
		}
		router, err := state.Routers.Router(resource.Handle(routerHandle))
		if err != nil {
			logrus.WithError(err).Error("hoststate: server.serve against unknown router")
			return 0
		}
		return uint64(state.Servers.Serve(string(addr), router))
	}).Export("server_serve")

	b.NewFunctionBuilder().WithFunc(func(handle uint64) uint32 {
		if err := state.Servers.Stop(resource.Handle(handle)); err != nil {
			return 1
		}
		return 0
	}).Export("server_stop")

	_, err := b.Instantiate(ctx)
	return err
}

// Key/value result tags written into the u32 the guest reads as this
// call's outcome: ok, key-not-found, connection failure, or anything
// else.
const (
	kvTagOK = iota
	kvTagNotFound
	kvTagConnection
	kvTagUnexpected
)

// writeRetPair writes an (ptr, len) descriptor into guest memory at
// retPtr — the caller-supplied scratch slot a wit-bindgen-style host
// import writes its variable-length result through, since a Wasm
// function itself returns only a single scalar.
func writeRetPair(io abi.MemIO, retPtr, ptr, length uint32) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], ptr)
	binary.LittleEndian.PutUint32(buf[4:], length)
	io.Memory.Write(retPtr, buf)
}

// writeStringList encodes a list of names using the same descriptor-quad
// convention abi.WritePairs uses for header/param pairs, with an empty
// value half — kv.keys() has no values to carry, and reusing the layout
// avoids a second encoding scheme for one call.
func writeStringList(ctx context.Context, io abi.MemIO, names []string) (ptr, length uint32, err error) {
	pairs := make([]httpmsg.Pair, len(names))
	for i, n := range names {
		pairs[i] = httpmsg.Pair{Name: n}
	}
	return abi.WritePairs(ctx, io, pairs)
}
