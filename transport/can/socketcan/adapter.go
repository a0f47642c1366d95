// Package socketcan adapts a raw Linux SocketCAN device (or, on non-Linux
// builds, a stub returning ErrUnsupported) to transport/can.Media.
package socketcan

import "github.com/opencyphal-go/transport/transport/can"

// Media wraps a Device to satisfy can.Media.
type Media struct{ dev *Device }

// NewMedia binds iface and returns a ready-to-use can.Media.
func NewMedia(iface string) (*Media, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	return &Media{dev: dev}, nil
}

func (m *Media) Send(identifier uint32, data []byte) error { return m.dev.WriteFrame(identifier, data) }

func (m *Media) Receive() (uint32, []byte, error) { return m.dev.ReadFrame() }

func (m *Media) SetFilters(filters []can.FilterConfiguration) error {
	packed := make([]struct{ Identifier, Mask uint32 }, len(filters))
	for i, f := range filters {
		packed[i] = struct{ Identifier, Mask uint32 }{f.Identifier, f.Mask}
	}
	return m.dev.SetFilters(packed)
}

func (m *Media) MaxFilters() int { return MaxFilters }

func (m *Media) Close() error { return m.dev.Close() }

var _ can.Media = (*Media)(nil)
