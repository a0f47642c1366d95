//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Device is a raw SocketCAN socket bound to one CAN interface.
type Device struct {
	fd int
}

// Open binds a raw CAN_RAW socket to the named interface (e.g. "can0").
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("enable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame and returns its 29-bit identifier
// (EFF/RTR/ERR flags stripped) and data payload.
func (d *Device) ReadFrame() (identifier uint32, data []byte, err error) {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return 0, nil, err
	}
	if n != unix.CAN_MTU {
		return 0, nil, fmt.Errorf("short read: %d", n)
	}

	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc < 0 || dlc > 8 {
		dlc = 8
	}
	if id&unix.CAN_EFF_FLAG == 0 {
		return 0, nil, fmt.Errorf("socketcan: standard (11-bit) frame received, Cyphal requires extended identifiers")
	}
	payload := make([]byte, dlc)
	copy(payload, buf[8:8+dlc])
	return id &^ (unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG | unix.CAN_ERR_FLAG), payload, nil
}

// WriteFrame writes one classic CAN frame carrying a 29-bit Cyphal
// identifier.
func (d *Device) WriteFrame(identifier uint32, data []byte) error {
	if len(data) > 8 {
		return fmt.Errorf("socketcan: classic CAN frame cannot carry %d bytes", len(data))
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], identifier|unix.CAN_EFF_FLAG)
	buf[4] = byte(len(data))
	copy(buf[8:], data)
	_, err := unix.Write(d.fd, buf[:])
	return err
}
