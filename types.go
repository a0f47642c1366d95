package transport

import "time"

// Priority is one of the eight Cyphal transfer priority levels, ordered from
// most to least urgent.
type Priority uint8

const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

func (p Priority) String() string {
	switch p {
	case PriorityExceptional:
		return "exceptional"
	case PriorityImmediate:
		return "immediate"
	case PriorityFast:
		return "fast"
	case PriorityHigh:
		return "high"
	case PriorityNominal:
		return "nominal"
	case PriorityLow:
		return "low"
	case PrioritySlow:
		return "slow"
	case PriorityOptional:
		return "optional"
	default:
		return "unknown"
	}
}

// DataSpecifier identifies either a subject (message) or a service request/
// response. Exactly one of IsService's two shapes applies at a time; a
// DataSpecifier is a tagged union expressed as a flat struct because Go has
// no sum types; this codebase favors plain structs over interface{}-based
// variants.
type DataSpecifier struct {
	// IsService distinguishes a ServiceID from a SubjectID.
	IsService bool
	// ID holds the subject-ID (IsService == false) or the service-ID
	// (IsService == true).
	ID uint16
	// IsRequest is only meaningful when IsService is true.
	IsRequest bool
}

// Message constructs a message DataSpecifier for the given subject-ID.
func Message(subjectID uint16) DataSpecifier {
	return DataSpecifier{IsService: false, ID: subjectID}
}

// Request constructs a service-request DataSpecifier.
func Request(serviceID uint16) DataSpecifier {
	return DataSpecifier{IsService: true, ID: serviceID, IsRequest: true}
}

// Response constructs a service-response DataSpecifier.
func Response(serviceID uint16) DataSpecifier {
	return DataSpecifier{IsService: true, ID: serviceID, IsRequest: false}
}

// SessionSpecifier pairs a DataSpecifier with the remote node, if any.
// A nil RemoteNodeID means promiscuous (input) or broadcast (output).
type SessionSpecifier struct {
	DataSpecifier DataSpecifier
	RemoteNodeID  *uint16
}

// Timestamp carries both the wall-clock and monotonic views of an event, as
// required to support both human-readable logs and jitter-free duration math.
type Timestamp struct {
	System    time.Time
	Monotonic time.Duration
}

// PayloadMetadata bounds the maximum payload size a session will accept.
// Output serializers send the payload whole and never truncate it. On
// reception, the transport/hot reassembler truncates a completed payload to
// ExtentBytes; the CAN receiver truncates a single-frame payload but drops a
// multi-frame transfer with ErrPayloadTooLarge once its accumulated payload
// exceeds ExtentBytes plus the 2-byte CRC.
type PayloadMetadata struct {
	ExtentBytes uint32
}

// Transfer is an outgoing transfer as requested by the local application.
type Transfer struct {
	Timestamp Timestamp
	Priority  Priority
	TransferID uint64
	Fragments [][]byte
}

// TransferFrom is a transfer as received on an input session, annotated with
// the identity of its source.
type TransferFrom struct {
	Transfer
	SourceNodeID *uint16
}

// AlienTransfer is a transfer reconstructed by a Tracer or accepted by
// Spoof, fully specifying the session it belongs to since the receiving
// context has no session of its own to infer it from.
type AlienTransfer struct {
	Timestamp        Timestamp
	Priority         Priority
	TransferID       uint64
	SourceNodeID     *uint16
	DestinationNode  *uint16
	DataSpecifier    DataSpecifier
	Fragments        [][]byte
}
