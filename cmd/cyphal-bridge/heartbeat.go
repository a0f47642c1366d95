package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strconv"
	"sync"
	"time"

	roottransport "github.com/opencyphal-go/transport"
)

// runHeartbeatPublisher periodically sends an 8-byte uptime-counter message
// on the demo subject, fanned out to every inferior by the redundant
// transport. It exercises OutputSession.Send and the redundant transport's
// send fan-out/aggregation rules the way a real application node would
// publish a periodic status message.
func runHeartbeatPublisher(ctx context.Context, out roottransport.OutputSession, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		var transferID uint64
		for {
			select {
			case <-t.C:
				payload := make([]byte, 8)
				binary.LittleEndian.PutUint64(payload, uint64(time.Since(startTime)/time.Second))
				tr := roottransport.Transfer{
					Timestamp:  roottransport.Timestamp{System: time.Now(), Monotonic: time.Since(startTime)},
					Priority:   roottransport.PriorityNominal,
					TransferID: transferID,
					Fragments:  [][]byte{payload},
				}
				sendCtx, cancel := context.WithTimeout(ctx, interval)
				if err := out.Send(sendCtx, tr); err != nil {
					l.Warn("heartbeat_send_error", "error", err)
				}
				cancel()
				transferID++
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runHeartbeatSubscriber drains received heartbeats (its own, looped back
// through the redundant transport's deduplicator, and any peer's) and logs
// them. Exercises InputSession.Receive and redundant receive-side
// deduplication.
func runHeartbeatSubscriber(ctx context.Context, in roottransport.InputSession, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			tr, err := in.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.Warn("heartbeat_receive_error", "error", err)
				continue
			}
			l.Debug("heartbeat_received", "transfer_id", tr.TransferID, "source", nodeIDString(tr.SourceNodeID), "bytes", fragmentsLen(tr.Fragments))
		}
	}()
}

func fragmentsLen(fragments [][]byte) int {
	n := 0
	for _, f := range fragments {
		n += len(f)
	}
	return n
}

func nodeIDString(id *uint16) string {
	if id == nil {
		return "anonymous"
	}
	return strconv.Itoa(int(*id))
}

var startTime = time.Now()
