package transport

import (
	"context"

	"github.com/opencyphal-go/transport/capture"
)

// ProtocolParameters describes the constraints a Transport's media imposes on
// transfers: the transfer-ID counter width (modulo), the largest payload a
// transport's frame format can carry in a single frame, and the media's MTU.
type ProtocolParameters struct {
	TransferIDModulo    uint64
	MaxSingleFramePayload uint32
	MTU                 uint32
}

// Session is the capability shared by every input and output session: it can
// be closed, and it reports the specifier it was opened for.
type Session interface {
	Specifier() SessionSpecifier
	Close() error
}

// InputSession receives transfers matching its specifier.
type InputSession interface {
	Session
	// Receive blocks until a transfer arrives or ctx is done.
	Receive(ctx context.Context) (TransferFrom, error)
}

// OutputSession sends transfers matching its specifier.
type OutputSession interface {
	Session
	// Send enqueues a transfer for transmission; it returns once the
	// transfer has been handed to the media layer (not once delivered).
	Send(ctx context.Context, tr Transfer) error
}

// Transport is the common surface of every concrete transport (CAN, serial,
// redundant): it opens sessions, reports the node-ID it represents (nil if
// anonymous), and exposes capture/spoof hooks.
type Transport interface {
	// LocalNodeID is nil for an anonymous transport.
	LocalNodeID() *uint16
	ProtocolParameters() ProtocolParameters
	OutputSession(spec SessionSpecifier, meta PayloadMetadata) (OutputSession, error)
	InputSession(spec SessionSpecifier, meta PayloadMetadata) (InputSession, error)
	// BeginCapture registers cb to be invoked for every frame/transfer this
	// transport observes, independent of any session. Returns a function
	// that cancels the capture.
	BeginCapture(cb capture.Callback) (cancel func(), err error)
	// Spoof transmits an AlienTransfer onto the media, bypassing normal
	// session bookkeeping. Used for fault injection and tests.
	Spoof(ctx context.Context, tr AlienTransfer) error
	Close() error
}

// Tracer reconstructs Transfers/AlienTransfers from a stream of captures. It
// is stateful only in that it remembers per-session reassembly progress; it
// never touches the network itself.
type Tracer interface {
	// Update feeds one captured event (typically produced by
	// Transport.BeginCapture) into the tracer's reassembly state machine. It
	// returns the AlienTransfer completed by this event, if any.
	Update(event capture.Event) (*AlienTransfer, error)
}
