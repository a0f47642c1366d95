package hot

import "github.com/opencyphal-go/transport"

// ConstructAnonymousTransfer builds a single-frame TransferFrom directly
// from a frame without touching any Reassembler state, since anonymous
// senders (no node-ID) are only ever allowed to emit single-frame
// transfers and a stateful multi-session reassembler would never see more
// than one frame from them anyway.
func ConstructAnonymousTransfer(f Frame) (*transport.TransferFrom, bool) {
	if !(f.Index == 0 && f.EndOfTransfer) {
		return nil, false
	}
	return &transport.TransferFrom{
		Transfer: transport.Transfer{
			Timestamp:  f.Timestamp,
			Priority:   f.Priority,
			TransferID: f.TransferID,
			Fragments:  [][]byte{f.Payload},
		},
		SourceNodeID: nil,
	}, true
}
