package httpmsg

// OperationRequest is the sum type workers send on the shared operation
// channel. Go has no tagged unions, so the two variants are concrete
// struct types joined by a marker method; only they satisfy the
// interface the dispatcher reads off its channel.
type OperationRequest interface {
	isOperationRequest()
}

// RegisterHandlerOp asks the dispatcher to resolve and cache a guest
// export by name.
type RegisterHandlerOp struct {
	HandlerName string
	Reply       chan error
}

func (RegisterHandlerOp) isOperationRequest() {}

// InvokeHandlerOp asks the dispatcher to call an already-cached handler.
type InvokeHandlerOp struct {
	HandlerName string
	Request     *Request
	Reply       chan InvokeResult
}

func (InvokeHandlerOp) isOperationRequest() {}
