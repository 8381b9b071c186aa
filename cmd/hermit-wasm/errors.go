package main

import "errors"

// Run errors
var (
	ErrOpenAuditLog = errors.New("open audit log")
)
