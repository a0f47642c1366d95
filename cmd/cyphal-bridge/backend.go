package main

import (
	"fmt"
	"log/slog"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/transport/can"
	"github.com/opencyphal-go/transport/transport/can/socketcan"
	"github.com/opencyphal-go/transport/transport/redundant"
	"github.com/opencyphal-go/transport/transport/serial"
	"github.com/opencyphal-go/transport/transport/serial/port"
)

// buildRedundantTransport opens the SocketCAN and serial media, wraps each
// in its own concrete transport, and attaches both as inferiors of a single
// redundant transport. Both inferiors run concurrently as redundant
// peers, exercising the redundant transport's fan-out/dedup machinery
// instead of the single-backend selection of a plain CAN-to-serial bridge.
func buildRedundantTransport(cfg *appConfig, l *slog.Logger) (*redundant.Transport, func(), error) {
	var localNodeID *uint16
	if cfg.nodeID >= 0 {
		id := uint16(cfg.nodeID)
		localNodeID = &id
	}

	canMedia, err := socketcan.NewMedia(cfg.canIf)
	if err != nil {
		return nil, nil, fmt.Errorf("open socketcan %s: %w", cfg.canIf, err)
	}
	canTransport := can.NewTransport(canMedia, localNodeID, 7)
	l.Info("can_inferior_attached", "interface", cfg.canIf)

	serialPort, err := port.Open(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		_ = canTransport.Close()
		return nil, nil, fmt.Errorf("open serial %s: %w", cfg.serialDev, err)
	}
	serialTransport := serial.NewTransport(serialPort, localNodeID, 0)
	l.Info("serial_inferior_attached", "device", cfg.serialDev, "baud", cfg.baud)

	red := redundant.NewTransport()
	red.SetTransferIDTimeout(cfg.transferIDTimeout)
	if err := red.AttachInferior(canTransport); err != nil {
		_ = canTransport.Close()
		_ = serialTransport.Close()
		return nil, nil, fmt.Errorf("attach can inferior: %w", err)
	}
	if err := red.AttachInferior(serialTransport); err != nil {
		_ = red.Close()
		return nil, nil, fmt.Errorf("attach serial inferior: %w", err)
	}

	cleanup := func() {
		_ = red.Close()
	}
	return red, cleanup, nil
}

var _ roottransport.Transport = (*redundant.Transport)(nil)
