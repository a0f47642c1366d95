package serial

import (
	"context"

	roottransport "github.com/opencyphal-go/transport"
)

type outputSession struct {
	transport *Transport
	spec      roottransport.SessionSpecifier
	meta      roottransport.PayloadMetadata
}

func (s *outputSession) Specifier() roottransport.SessionSpecifier { return s.spec }

func (s *outputSession) Close() error { return nil }

func (s *outputSession) Send(ctx context.Context, tr roottransport.Transfer) error {
	return s.transport.sendTransfer(ctx, s.spec.DataSpecifier, s.spec.RemoteNodeID, tr.Priority, tr.TransferID, tr.Fragments)
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
