// Package wasmvm owns the VM store and serializes every re-entry into
// the guest module behind a single operation channel. The wazero.Runtime
// / api.Module pair is never touched from any goroutine but the one
// running Dispatcher.Run — the engine is treated as non-reentrant.
package wasmvm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero/api"

	"github.com/flavio/hermit-wasm/internal/abi"
	"github.com/flavio/hermit-wasm/internal/httpmsg"
	"github.com/flavio/hermit-wasm/pkg/logging"
)

// OperationChannelCapacity bounds the operation channel. Workers block
// on send once it fills; no request is ever dropped.
const OperationChannelCapacity = 100

// Dispatcher consumes OperationRequest values from a single channel and
// processes them strictly sequentially. The handler cache it maintains
// is monotonically growing and is never shared outside this type.
type Dispatcher struct {
	module  api.Module
	cache   map[string]*abi.Binding
	emitter *logging.Emitter
}

// NewDispatcher constructs a dispatcher bound to an already-instantiated
// guest module.
func NewDispatcher(module api.Module, emitter *logging.Emitter) *Dispatcher {
	return &Dispatcher{module: module, cache: make(map[string]*abi.Binding), emitter: emitter}
}

// Run drains ops until the channel is closed (every sender has dropped),
// which is logged but never treated as a crash.
func (d *Dispatcher) Run(ctx context.Context, ops <-chan httpmsg.OperationRequest) {
	for op := range ops {
		d.handle(ctx, op)
	}
	logrus.Debug("wasmvm: operation channel closed, dispatcher exiting")
}

func (d *Dispatcher) handle(ctx context.Context, op httpmsg.OperationRequest) {
	switch o := op.(type) {
	case httpmsg.RegisterHandlerOp:
		d.register(o)
	case httpmsg.InvokeHandlerOp:
		d.invoke(ctx, o)
	}
}

// register resolves and caches a guest export by name. A name already in
// the cache replies Ok immediately without re-resolving; a failed
// resolution leaves the cache untouched so a later register can retry.
func (d *Dispatcher) register(op httpmsg.RegisterHandlerOp) {
	if _, ok := d.cache[op.HandlerName]; ok {
		replyOnce(op.Reply, nil)
		return
	}

	binding, err := abi.ResolveHandler(d.module, op.HandlerName)
	if err != nil {
		logrus.WithError(err).WithField("handler", op.HandlerName).Warn("wasmvm: handler registration failed")
		replyOnce(op.Reply, err)
		return
	}

	d.cache[op.HandlerName] = binding
	if d.emitter != nil {
		_ = d.emitter.Emit(logging.EventHandlerRegistered, "handler registered", "", nil,
			&logging.HandlerRegisteredData{HandlerName: op.HandlerName, Cached: false})
	}
	replyOnce(op.Reply, nil)
}

// invoke calls a cached handler. A cache miss is a 400; a VM trap during
// the call is recovered as a 500 by abi.Invoke and never escapes as a
// panic, so the loop keeps going regardless.
func (d *Dispatcher) invoke(ctx context.Context, op httpmsg.InvokeHandlerOp) {
	binding, ok := d.cache[op.HandlerName]
	if !ok {
		logrus.WithField("handler", op.HandlerName).Debug(ErrHandlerNotCached)
		replyResult(op.Reply, httpmsg.InvokeResult{Err: httpmsg.StatusError(400)})
		return
	}

	start := time.Now()
	result := abi.Invoke(ctx, binding, op.Request)
	if d.emitter != nil {
		status := 0
		if result.Response != nil {
			status = result.Response.Status
		} else if result.Err != nil {
			status = result.Err.HTTPStatus()
		}
		_ = d.emitter.Emit(logging.EventHandlerInvoked, "handler invoked", "", nil,
			&logging.HandlerInvokedData{
				HandlerName: op.HandlerName,
				Method:      op.Request.Method,
				URI:         op.Request.URI,
				StatusCode:  status,
				DurationMS:  time.Since(start).Milliseconds(),
			})
	}
	replyResult(op.Reply, result)
}

// replyOnce sends on a single-shot error reply channel. Every reply
// channel is buffered with capacity one and used for exactly one
// operation, so the send never blocks; the default arm covers a
// receiver that already dropped its end.
func replyOnce(reply chan<- error, err error) {
	select {
	case reply <- err:
	default:
	}
}

func replyResult(reply chan<- httpmsg.InvokeResult, result httpmsg.InvokeResult) {
	select {
	case reply <- result:
	default:
	}
}
