//go:build !linux

package socketcan

import "errors"

// ErrUnsupported is returned by Open on non-Linux builds, where raw
// SocketCAN sockets do not exist.
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

// Device is an unusable placeholder kept so non-Linux builds compile.
type Device struct{}

func Open(iface string) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error { return ErrUnsupported }

func (d *Device) ReadFrame() (identifier uint32, data []byte, err error) {
	return 0, nil, ErrUnsupported
}

func (d *Device) WriteFrame(identifier uint32, data []byte) error { return ErrUnsupported }

func (d *Device) SetFilters(filters []struct{ Identifier, Mask uint32 }) error { return ErrUnsupported }

const MaxFilters = 0
