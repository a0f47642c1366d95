package can

import (
	"context"
	"errors"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/internal/metrics"
)

// ErrTxOverflow is returned by OutputSession.Send when the transport's
// transmit queue is full.
var ErrTxOverflow = errors.New("can: transmit queue overflow")

type outputSession struct {
	transport *Transport
	spec      roottransport.SessionSpecifier
	meta      roottransport.PayloadMetadata
}

func (s *outputSession) Specifier() roottransport.SessionSpecifier { return s.spec }

func (s *outputSession) Close() error { return nil }

func (s *outputSession) Send(ctx context.Context, tr roottransport.Transfer) error {
	maxPayload := s.transport.mtuBytes
	chunks, err := SerializeCAN(tr.Fragments, maxPayload)
	if err != nil {
		return err
	}
	if s.transport.localNodeID == nil && len(chunks) > 1 {
		return roottransport.ErrOperationNotDefinedForAnonymous
	}
	id := Identifier{Priority: uint8(tr.Priority), SubjectID: s.spec.DataSpecifier.ID}
	if s.spec.DataSpecifier.IsService {
		id.IsServiceFrame = true
		id.IsRequest = s.spec.DataSpecifier.IsRequest
		id.ServiceID = s.spec.DataSpecifier.ID
		id.DestinationNodeID = s.spec.RemoteNodeID
	}
	id.SourceNodeID = s.transport.localNodeID
	id.IsAnonymous = s.transport.localNodeID == nil
	raw, err := id.Compile()
	if err != nil {
		return err
	}
	if err := s.transport.sendFrames(ctx, raw, chunks, uint8(tr.TransferID)); err != nil {
		return err
	}
	metrics.IncTransfersTx("can")
	return nil
}

type inputSession struct {
	transport *Transport
	key       sessionKey
	state     *sessionState
}

func (s *inputSession) Specifier() roottransport.SessionSpecifier { return s.state.spec }

func (s *inputSession) Close() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	delete(s.transport.receivers, s.key)
	return nil
}

func (s *inputSession) Receive(ctx context.Context) (roottransport.TransferFrom, error) {
	select {
	case tr := <-s.state.ch:
		return tr, nil
	case <-ctx.Done():
		return roottransport.TransferFrom{}, ctx.Err()
	}
}
