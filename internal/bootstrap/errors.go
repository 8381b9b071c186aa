package bootstrap

import "errors"

var (
	ErrReadModule        = errors.New("bootstrap: read guest module")
	ErrCompileModule     = errors.New("bootstrap: compile guest module")
	ErrRegisterHostFuncs = errors.New("bootstrap: register host functions")
	ErrInstantiateModule = errors.New("bootstrap: instantiate guest module")
	ErrRunInitializer    = errors.New("bootstrap: run guest initializer")
	ErrListen            = errors.New("bootstrap: listen on server address")
)
