package can

// Media is the capability a concrete CAN backend (SocketCAN, a CAN-FD USB
// adapter, a test fake) must provide. Reading is a blocking single-frame
// call driven by the Transport's own background goroutine (one per
// Transport, one read thread per port); writing is also synchronous here,
// with non-blocking fan-in
// provided by the OutputSession layer on top via internal/queue.
type Media interface {
	Send(identifier uint32, data []byte) error
	Receive() (identifier uint32, data []byte, err error)
	// SetFilters programs the hardware acceptance filter list, already
	// reduced to at most MaxFilters() entries by OptimizeFilterConfigurations.
	SetFilters(filters []FilterConfiguration) error
	MaxFilters() int
	Close() error
}
