// Package port wraps github.com/tarm/serial behind a small interface so the
// serial transport's reader/writer can be exercised against a fake in tests.
package port

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open binds a physical serial device at the given baud rate. readTimeout
// bounds each Read call so the transport's reader goroutine can still notice
// context cancellation between reads.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
