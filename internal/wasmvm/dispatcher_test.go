package wasmvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavio/hermit-wasm/internal/abi"
	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{cache: make(map[string]*abi.Binding)}
}

// TestDispatcher_RegisterIsIdempotentOnCacheHit asserts that a handler
// name already in the cache replies Ok without re-resolving the guest
// export (and, implicitly, without touching the nil module in this
// test — if register tried to resolve again it would panic on a nil
// api.Module).
func TestDispatcher_RegisterIsIdempotentOnCacheHit(t *testing.T) {
	d := newTestDispatcher()
	d.cache["greet"] = &abi.Binding{}

	reply := make(chan error, 1)
	d.register(httpmsg.RegisterHandlerOp{HandlerName: "greet", Reply: reply})

	select {
	case err := <-reply:
		assert.NoError(t, err)
	default:
		t.Fatal("expected a reply on cache hit")
	}
}

// TestDispatcher_InvokeCacheMissIsBadRequest asserts that invoking a
// handler name that was never registered is a 400, not a guest call.
func TestDispatcher_InvokeCacheMissIsBadRequest(t *testing.T) {
	d := newTestDispatcher()
	reply := make(chan httpmsg.InvokeResult, 1)

	d.invoke(context.Background(), httpmsg.InvokeHandlerOp{
		HandlerName: "missing",
		Request:     &httpmsg.Request{Method: "GET", URI: "/x"},
		Reply:       reply,
	})

	result := <-reply
	require.NotNil(t, result.Err)
	assert.Equal(t, 400, result.Err.HTTPStatus())
}

// TestDispatcher_RunDrainsUntilClosed confirms the dispatcher never
// crashes when the operation channel is closed out from under it — it
// simply stops.
func TestDispatcher_RunDrainsUntilClosed(t *testing.T) {
	d := newTestDispatcher()
	ops := make(chan httpmsg.OperationRequest, 1)

	reply := make(chan error, 1)
	ops <- httpmsg.RegisterHandlerOp{HandlerName: "cached", Reply: reply}
	d.cache["cached"] = &abi.Binding{}
	close(ops)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ops)
		close(done)
	}()

	assert.NoError(t, <-reply)
	<-done
}
