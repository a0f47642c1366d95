package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises the bridge's Prometheus metrics endpoint, not
// the Cyphal transports themselves (those have no IP-reachable service to
// advertise; the redundant transport's inferiors are a CAN bus and a serial
// port).
const mdnsServiceType = "_cyphal-bridge._tcp"

// startMDNS registers the service via mDNS and returns a cleanup function.
// Safe to call even when disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("cyphal-bridge-%s", host)
	}
	meta := []string{
		"can-if=" + cfg.canIf,
		"serial=" + cfg.serialDev,
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
