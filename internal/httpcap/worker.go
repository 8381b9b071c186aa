package httpcap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flavio/hermit-wasm/internal/errx"
	"github.com/flavio/hermit-wasm/internal/httpmsg"
	"github.com/flavio/hermit-wasm/pkg/logging"
)

// acceptPollInterval bounds how long a worker's non-blocking accept
// waits before re-checking KeepGoing.
const acceptPollInterval = 200 * time.Millisecond

// WorkerPool runs the fixed-size set of HTTP worker goroutines that turn
// accepted sockets into OperationRequest values.
type WorkerPool struct {
	listener *net.TCPListener
	server   *ServerHandle
	ops      chan<- httpmsg.OperationRequest
	emitter  *logging.Emitter
}

// NewWorkerPool constructs a pool bound to the given listener, server
// handle, and the shared operation channel workers send on.
func NewWorkerPool(listener *net.TCPListener, server *ServerHandle, ops chan<- httpmsg.OperationRequest, emitter *logging.Emitter) *WorkerPool {
	return &WorkerPool{listener: listener, server: server, ops: ops, emitter: emitter}
}

// Run starts count workers and blocks until all of them have exited
// (which happens only after KeepGoing is observed false).
func (p *WorkerPool) Run(count int) {
	done := make(chan struct{}, count)
	for i := 0; i < count; i++ {
		go p.runWorker(i+1, done)
	}
	for i := 0; i < count; i++ {
		<-done
	}
}

func (p *WorkerPool) runWorker(index int, done chan<- struct{}) {
	log := logrus.WithField("worker", index)
	defer func() { done <- struct{}{} }()

	// A handler the guest does not export must abort the process before
	// any socket is accepted; partial availability would mask the
	// misconfiguration behind per-request 500s.
	table := newRouteTable(p.server.Routes)
	for _, name := range table.handlerNames() {
		reply := make(chan error, 1)
		p.ops <- httpmsg.RegisterHandlerOp{HandlerName: name, Reply: reply}
		if err := <-reply; err != nil {
			log.WithError(errx.Wrap(ErrHandlerRegistrationFailed, err)).
				WithField("handler", name).Error("terminating process")
			os.Exit(1)
		}
	}
	if p.emitter != nil {
		_ = p.emitter.Emit(logging.EventWorkerStarted, "worker started", fmt.Sprintf("%d", index), nil,
			&logging.WorkerLifecycleData{WorkerIndex: index})
	}
	log.Debug("worker started")

	for {
		p.serveOne(table, log)
		if p.server.Stopped() {
			break
		}
	}

	if p.emitter != nil {
		_ = p.emitter.Emit(logging.EventWorkerStopped, "worker stopped", fmt.Sprintf("%d", index), nil,
			&logging.WorkerLifecycleData{WorkerIndex: index})
	}
	log.Debug("worker stopped")
}

// serveOne polls for one connection and, if one arrives within the poll
// interval, handles exactly one request on it. Returning without having
// served anything is normal — it's how the worker gets back to the
// KeepGoing check each iteration.
func (p *WorkerPool) serveOne(table *routeTable, log *logrus.Entry) {
	_ = p.listener.SetDeadline(time.Now().Add(acceptPollInterval))
	conn, err := p.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	defer req.Body.Close()

	resp := p.handle(table, req, log)
	writeResponse(conn, resp)
}

// handle matches the request, buffers its body, round-trips through the
// operation channel, and produces the response the worker will write
// back.
func (p *WorkerPool) handle(table *routeTable, req *http.Request, log *logrus.Entry) httpResult {
	handlerName, params, hasMethod, matched := table.match(req.Method, req.URL.Path)
	if !hasMethod {
		return httpResult{status: 400, body: []byte("Bad request")}
	}
	if !matched {
		return httpResult{status: 404, body: []byte("Not found")}
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return httpResult{status: 500, body: []byte("Internal server error")}
	}
	if body == nil {
		body = []byte{}
	}

	hostReq := &httpmsg.Request{
		Method:  req.Method,
		URI:     req.URL.RequestURI(),
		Headers: headerPairs(req.Header),
		Params:  params,
		Body:    body,
	}

	reply := make(chan httpmsg.InvokeResult, 1)
	// A full operation channel simply blocks this send; no request is
	// ever dropped.
	p.ops <- httpmsg.InvokeHandlerOp{HandlerName: handlerName, Request: hostReq, Reply: reply}

	result, ok := <-reply
	if !ok {
		return httpResult{status: 500, body: []byte("Internal server error")}
	}
	return toHTTPResult(result, log)
}

func headerPairs(h http.Header) []httpmsg.Pair {
	var pairs []httpmsg.Pair
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, httpmsg.Pair{Name: name, Value: v})
		}
	}
	return pairs
}
