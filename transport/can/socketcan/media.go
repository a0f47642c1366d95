//go:build linux

package socketcan

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// SetFilters programs the kernel's CAN_RAW_FILTER acceptance filter list.
// Each (identifier, mask) pair is packed as a struct can_filter (two u32
// fields) and installed in one setsockopt call, replacing any previously
// programmed filters.
func (d *Device) SetFilters(filters []struct{ Identifier, Mask uint32 }) error {
	buf := make([]byte, 8*len(filters))
	for i, f := range filters {
		binary.LittleEndian.PutUint32(buf[i*8:], f.Identifier|unix.CAN_EFF_FLAG)
		binary.LittleEndian.PutUint32(buf[i*8+4:], f.Mask|unix.CAN_EFF_FLAG)
	}
	// x/sys/unix has no typed wrapper for an array-valued sockopt; passing
	// the packed bytes as a string is the established trick (the kernel
	// only cares about the pointer and length, both of which a Go string
	// header provides).
	return unix.SetsockoptString(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, string(buf))
}

// MaxFilters is a conservative, commonly-supported SocketCAN filter budget;
// the real number is interface/driver-dependent and not queryable via the
// raw socket API, so callers needing a precise figure should source it from
// configuration.
const MaxFilters = 16
