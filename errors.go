package transport

import "errors"

// Sentinel errors classified via errors.Is, wrapped with %w at the point of
// detection so callers keep whatever local context triggered them.
var (
	ErrInvalidTransportConfiguration     = errors.New("transport: invalid transport configuration")
	ErrInvalidMediaConfiguration         = errors.New("transport: invalid media configuration")
	ErrUnsupportedSessionConfiguration   = errors.New("transport: unsupported session configuration")
	ErrOperationNotDefinedForAnonymous   = errors.New("transport: operation not defined for an anonymous node")
	ErrResourceClosed                   = errors.New("transport: resource closed")
	ErrBackendError                     = errors.New("transport: backend error")
)
