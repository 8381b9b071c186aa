// Package bootstrap wires together the VM, the host capabilities, and the
// guest module, then runs the guest's initializer and, if it declared a
// server, enters the serving loop.
package bootstrap

import (
	"context"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"

	"github.com/flavio/hermit-wasm/internal/errx"
	"github.com/flavio/hermit-wasm/internal/hoststate"
	"github.com/flavio/hermit-wasm/internal/httpcap"
	"github.com/flavio/hermit-wasm/internal/httpmsg"
	"github.com/flavio/hermit-wasm/internal/keyvalue"
	"github.com/flavio/hermit-wasm/internal/settings"
	"github.com/flavio/hermit-wasm/internal/wasmvm"
	"github.com/flavio/hermit-wasm/pkg/logging"
)

// initializerExport is the guest's entry point, callable as
// main(i32,i32)->i32 and invoked once with (0,0).
const initializerExport = "main"

// Run instantiates the guest module, runs its initializer, and — if the
// guest declared a server — spawns the dispatcher and worker pool and
// blocks until every worker has exited.
func Run(ctx context.Context, s settings.Settings, emitter *logging.Emitter) error {
	wasmBytes, err := os.ReadFile(s.ModulePath)
	if err != nil {
		return errx.Wrap(ErrReadModule, err)
	}

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	kv := keyvalue.NewStore(s)
	defer kv.Shutdown()

	state := hoststate.New(kv)
	if err := hoststate.RegisterHostFunctions(ctx, rt, state); err != nil {
		return errx.Wrap(ErrRegisterHostFuncs, err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errx.Wrap(ErrCompileModule, err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest"))
	if err != nil {
		return errx.Wrap(ErrInstantiateModule, err)
	}

	init := mod.ExportedFunction(initializerExport)
	if init == nil {
		return errx.Wrap(ErrRunInitializer, os.ErrNotExist)
	}
	if _, err := init.Call(ctx, 0, 0); err != nil {
		return errx.Wrap(ErrRunInitializer, err)
	}

	server, ok := state.Server()
	if !ok {
		logrus.WithError(httpcap.ErrNoServer).Warn("bootstrap: nothing to serve")
		logrus.Info("Leaving")
		return nil
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", server.Address)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	defer listener.Close()

	ops := make(chan httpmsg.OperationRequest, wasmvm.OperationChannelCapacity)
	dispatcher := wasmvm.NewDispatcher(mod, emitter)
	go dispatcher.Run(ctx, ops)

	pool := httpcap.NewWorkerPool(listener, server, ops, emitter)
	pool.Run(s.HTTPServerWorkerPoolSize)
	close(ops)

	if emitter != nil {
		_ = emitter.Emit(logging.EventServerStopped, "server stopped", "", nil,
			&logging.ServerStoppedData{Address: server.Address})
	}
	logrus.Info("Leaving")
	return nil
}
