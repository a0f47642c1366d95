package can

import (
	"time"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/capture"
)

// tidEMAAlpha is the exponential smoothing factor applied to inter-arrival
// gaps when auto-tuning a per-source transfer-ID timeout. No surviving
// reference pinned this constant; 0.5 weighs the latest gap and the running
// average equally, which tracks a bus's changing load without being too
// jumpy on a single outlier frame.
const tidEMAAlpha = 0.5

const (
	minTIDTimeout = 0
	maxTIDTimeout = time.Second
)

type canRawFrame struct {
	Identifier uint32
	Data       []byte
}

type tracerPerSource struct {
	receiver    *TransferReceiver
	lastArrival time.Time
	emaInterval time.Duration
}

// Tracer reconstructs AlienTransfers from raw captured CAN frames, without
// ever touching the network itself. One Tracer tracks every source node-id
// it has seen.
type Tracer struct {
	bySource map[uint16]*tracerPerSource
}

// NewTracer constructs an empty Tracer.
func NewTracer() *Tracer {
	return &Tracer{bySource: make(map[uint16]*tracerPerSource)}
}

func (t *Tracer) Update(event capture.Event) (*roottransport.AlienTransfer, error) {
	raw, ok := event.Raw.(struct {
		Identifier uint32
		Data       []byte
	})
	if !ok {
		return nil, nil
	}
	id, err := Parse(raw.Identifier)
	if err != nil {
		return nil, err
	}
	frame, err := ParseFrame(raw.Identifier, raw.Data)
	if err != nil {
		return nil, err
	}

	var key uint16
	if id.SourceNodeID != nil {
		key = *id.SourceNodeID
	}
	src, ok := t.bySource[key]
	if !ok {
		src = &tracerPerSource{receiver: NewTransferReceiver(id.SourceNodeID, 0, 0)}
		t.bySource[key] = src
	}

	now := event.Timestamp.System
	if !src.lastArrival.IsZero() && !now.IsZero() {
		gap := now.Sub(src.lastArrival)
		if src.emaInterval == 0 {
			src.emaInterval = gap
		} else {
			src.emaInterval = time.Duration(tidEMAAlpha*float64(gap) + (1-tidEMAAlpha)*float64(src.emaInterval))
		}
	}
	if !now.IsZero() {
		src.lastArrival = now
	}
	src.receiver.SetTransferIDTimeout(clampTIDTimeout(2 * src.emaInterval))

	res := src.receiver.Process(roottransport.Timestamp(event.Timestamp), roottransport.Priority(id.Priority), frame)
	if res.Err != ErrNone || res.Transfer == nil {
		return nil, nil
	}

	alien := &roottransport.AlienTransfer{
		Timestamp:       res.Transfer.Timestamp,
		Priority:        res.Transfer.Priority,
		TransferID:      res.Transfer.TransferID,
		SourceNodeID:    res.Transfer.SourceNodeID,
		DestinationNode: id.DestinationNodeID,
		Fragments:       res.Transfer.Fragments,
	}
	if id.IsServiceFrame {
		alien.DataSpecifier = roottransport.DataSpecifier{IsService: true, ID: id.ServiceID, IsRequest: id.IsRequest}
	} else {
		alien.DataSpecifier = roottransport.DataSpecifier{IsService: false, ID: id.SubjectID}
	}
	return alien, nil
}

func clampTIDTimeout(d time.Duration) time.Duration {
	if d < minTIDTimeout {
		return minTIDTimeout
	}
	if d > maxTIDTimeout {
		return maxTIDTimeout
	}
	return d
}

var _ roottransport.Tracer = (*Tracer)(nil)
