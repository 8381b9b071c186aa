package httpcap

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

// fakeDispatcher drains the operation channel the way the real
// dispatcher would: registrations always succeed, invocations are
// answered by the supplied function.
func fakeDispatcher(ops <-chan httpmsg.OperationRequest, invoke func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult) {
	for op := range ops {
		switch o := op.(type) {
		case httpmsg.RegisterHandlerOp:
			o.Reply <- nil
		case httpmsg.InvokeHandlerOp:
			o.Reply <- invoke(o)
		}
	}
}

// startTestPool spins up a one-worker pool on an ephemeral port and
// returns its base URL plus a stop function that flips KeepGoing and
// waits for the pool to drain.
func startTestPool(t *testing.T, routes []Route, invoke func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult) (string, func()) {
	t.Helper()

	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listener, err := net.ListenTCP("tcp", addr)
	require.NoError(t, err)

	keepGoing := &atomic.Bool{}
	keepGoing.Store(true)
	server := &ServerHandle{
		Address:   listener.Addr().String(),
		Routes:    routes,
		KeepGoing: keepGoing,
	}

	ops := make(chan httpmsg.OperationRequest, 100)
	go fakeDispatcher(ops, invoke)

	pool := NewWorkerPool(listener, server, ops, nil)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(1)
		close(poolDone)
	}()

	stop := func() {
		keepGoing.Store(false)
		select {
		case <-poolDone:
		case <-time.After(5 * time.Second):
			t.Fatal("worker pool did not drain after stop")
		}
		listener.Close()
		close(ops)
	}
	return fmt.Sprintf("http://%s", server.Address), stop
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestWorkerPool_ServesMatchedRoute(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(op httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		assert.Equal(t, "greet", op.HandlerName)
		return httpmsg.InvokeResult{Response: &httpmsg.Response{Status: 200, Body: []byte("hi")}}
	})
	defer stop()

	status, body := getBody(t, base+"/hello")
	assert.Equal(t, 200, status)
	assert.Equal(t, "hi", body)
}

func TestWorkerPool_PassesPathParams(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/u/:n", HandlerName: "echo"}}
	base, stop := startTestPool(t, routes, func(op httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		if !assert.Len(t, op.Request.Params, 1) {
			return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
		}
		assert.Equal(t, "n", op.Request.Params[0].Name)
		return httpmsg.InvokeResult{Response: &httpmsg.Response{
			Status: 200,
			Body:   []byte(op.Request.Params[0].Value),
		}}
	})
	defer stop()

	status, body := getBody(t, base+"/u/alice")
	assert.Equal(t, 200, status)
	assert.Equal(t, "alice", body)
}

func TestWorkerPool_MethodWithoutRoutesIsBadRequest(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		t.Error("no invocation expected")
		return httpmsg.InvokeResult{}
	})
	defer stop()

	req, err := http.NewRequest(http.MethodPatch, base+"/hello", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "Bad request", string(body))
}

func TestWorkerPool_UnmatchedPathIsNotFound(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		t.Error("no invocation expected")
		return httpmsg.InvokeResult{}
	})
	defer stop()

	status, body := getBody(t, base+"/nope")
	assert.Equal(t, 404, status)
	assert.Equal(t, "Not found", body)
}

func TestWorkerPool_TypedErrorMapsToStatus(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		return httpmsg.InvokeResult{Err: &httpmsg.TypedError{Kind: httpmsg.KindTimeoutError, Message: "slow"}}
	})
	defer stop()

	status, body := getBody(t, base+"/hello")
	assert.Equal(t, 408, status)
	assert.Equal(t, "slow", body)
}

func TestWorkerPool_TrapIs500AndStaysResponsive(t *testing.T) {
	var calls atomic.Int32
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		if calls.Add(1) == 1 {
			return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
		}
		return httpmsg.InvokeResult{Response: &httpmsg.Response{Status: 200, Body: []byte("ok")}}
	})
	defer stop()

	status, _ := getBody(t, base+"/hello")
	assert.Equal(t, 500, status)

	status, body := getBody(t, base+"/hello")
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body)
}

func TestWorkerPool_RequestBodyIsBuffered(t *testing.T) {
	var seen atomic.Pointer[[]byte]
	routes := []Route{{Method: MethodPost, Pattern: "/kv/:k", HandlerName: "kv-set"}}
	base, stop := startTestPool(t, routes, func(op httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		b := append([]byte(nil), op.Request.Body...)
		seen.Store(&b)
		return httpmsg.InvokeResult{Response: &httpmsg.Response{Status: 204}}
	})
	defer stop()

	resp, err := http.Post(base+"/kv/foo", "application/octet-stream", strings.NewReader("bar"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 204, resp.StatusCode)
	require.NotNil(t, seen.Load())
	assert.Equal(t, []byte("bar"), *seen.Load())
}

func TestWorkerPool_EmptyBodyArrivesAsEmptyBytes(t *testing.T) {
	var gotBody atomic.Pointer[[]byte]
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(op httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		b := op.Request.Body
		gotBody.Store(&b)
		return httpmsg.InvokeResult{Response: &httpmsg.Response{Status: 200}}
	})
	defer stop()

	status, _ := getBody(t, base+"/hello")
	assert.Equal(t, 200, status)
	require.NotNil(t, gotBody.Load())
	assert.NotNil(t, *gotBody.Load(), "empty body must be empty bytes, not absent")
}

func TestWorkerPool_StopDrainsWorkers(t *testing.T) {
	routes := []Route{{Method: MethodGet, Pattern: "/hello", HandlerName: "greet"}}
	base, stop := startTestPool(t, routes, func(httpmsg.InvokeHandlerOp) httpmsg.InvokeResult {
		return httpmsg.InvokeResult{Response: &httpmsg.Response{Status: 200}}
	})

	status, _ := getBody(t, base+"/hello")
	require.Equal(t, 200, status)

	// stop flips KeepGoing and fails the test if workers don't exit.
	stop()
}
