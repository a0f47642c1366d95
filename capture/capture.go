// Package capture holds the vocabulary shared by every transport's capture
// and spoof hooks: a capture Event wraps whatever a transport observed on
// its media (a raw CAN frame, a decoded serial frame, ...) together with the
// timestamp it arrived at, and a Callback is how an observer subscribes to
// them. Spoofing reuses transport.AlienTransfer directly and so needs no
// vocabulary of its own.
package capture

import "time"

// Timestamp mirrors transport.Timestamp; duplicated here (rather than
// imported) to keep this package free of a dependency on the root transport
// package, which itself depends on capture for BeginCapture's callback type.
type Timestamp struct {
	System    time.Time
	Monotonic time.Duration
}

// Event is one observed unit of media traffic. TransportName identifies
// which concrete transport produced it ("can", "serial", ...); Raw carries
// the transport-specific representation (e.g. can.Frame or a decoded serial
// frame) so a Tracer built for that transport can type-assert it back.
type Event struct {
	Timestamp     Timestamp
	TransportName string
	Raw           any
}

// Callback receives every Event produced by a transport with capture
// enabled. Callbacks must not block; slow consumers should buffer
// internally.
type Callback func(Event)
