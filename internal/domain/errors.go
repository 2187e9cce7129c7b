package domain

import "errors"

var (
	ErrShuttingDown         = errors.New("server is shutting down")
	ErrDuplicateConnection  = errors.New("connection id already registered")
	ErrInvalidRoutingPolicy = errors.New("invalid routing policy")
)
