package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencyphal-go/transport/internal/metrics"
)

// startMetricsLogger periodically logs the mirrored per-transport counters,
// for deployments that don't scrape Prometheus, built around
// internal/metrics.Snap's per-transport shape.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				can := metrics.Snap("can")
				serial := metrics.Snap("serial")
				l.Info("metrics_snapshot",
					"can_frames_rx", can.FramesRx, "can_frames_tx", can.FramesTx,
					"can_transfers_rx", can.TransfersRx, "can_transfers_tx", can.TransfersTx,
					"can_reassembly_errors", can.ReassemblyErr, "can_tx_overflow", can.TxOverflow,
					"serial_frames_rx", serial.FramesRx, "serial_frames_tx", serial.FramesTx,
					"serial_transfers_rx", serial.TransfersRx, "serial_transfers_tx", serial.TransfersTx,
					"serial_reassembly_errors", serial.ReassemblyErr, "serial_tx_overflow", serial.TxOverflow,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
