package serial

import (
	"time"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/capture"
	"github.com/opencyphal-go/transport/transport/hot"
)

// tidEMAAlpha mirrors the CAN tracer's smoothing factor; see
// transport/can/tracer.go for the rationale.
const tidEMAAlpha = 0.5

const maxTIDTimeout = time.Second

type tracerPerSource struct {
	receiver    *hot.Reassembler
	lastArrival time.Time
	emaInterval time.Duration
}

// Tracer reconstructs AlienTransfers from captured serial stream blocks.
type Tracer struct {
	bySource map[uint16]*tracerPerSource
}

// NewTracer constructs an empty Tracer.
func NewTracer() *Tracer {
	return &Tracer{bySource: make(map[uint16]*tracerPerSource)}
}

func (t *Tracer) Update(event capture.Event) (*roottransport.AlienTransfer, error) {
	block, ok := event.Raw.(ParsedBlock)
	if !ok || block.Frame == nil {
		return nil, nil
	}
	f := *block.Frame

	var key uint16
	if f.SourceNodeID != nil {
		key = *f.SourceNodeID
	}
	src, ok := t.bySource[key]
	if !ok {
		src = &tracerPerSource{receiver: hot.NewReassembler(f.SourceNodeID, 0, 0)}
		t.bySource[key] = src
	}

	now := block.Timestamp.System
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
	timeout := 2 * src.emaInterval
	if timeout > maxTIDTimeout {
		timeout = maxTIDTimeout
	}
	src.receiver.SetTransferIDTimeout(timeout)

	res := src.receiver.Process(hot.Frame{
		Timestamp:     block.Timestamp,
		Priority:      f.Priority,
		TransferID:    f.TransferID,
		Index:         f.Index,
		EndOfTransfer: f.EndOfTransfer,
		Payload:       f.Payload,
	})
	if res.Err != hot.ErrNone || res.Transfer == nil {
		return nil, nil
	}

	return &roottransport.AlienTransfer{
		Timestamp:       res.Transfer.Timestamp,
		Priority:        res.Transfer.Priority,
		TransferID:      res.Transfer.TransferID,
		SourceNodeID:    res.Transfer.SourceNodeID,
		DestinationNode: f.DestinationNodeID,
		DataSpecifier:   f.DataSpecifier,
		Fragments:       res.Transfer.Fragments,
	}, nil
}

var _ roottransport.Tracer = (*Tracer)(nil)
