package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("CYPHAL_BRIDGE_BAUD", "230400")
	os.Setenv("CYPHAL_BRIDGE_MDNS_ENABLE", "true")
	os.Setenv("CYPHAL_BRIDGE_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("CYPHAL_BRIDGE_NODE_ID", "42")
	t.Cleanup(func() {
		os.Unsetenv("CYPHAL_BRIDGE_BAUD")
		os.Unsetenv("CYPHAL_BRIDGE_MDNS_ENABLE")
		os.Unsetenv("CYPHAL_BRIDGE_SERIAL_READ_TIMEOUT")
		os.Unsetenv("CYPHAL_BRIDGE_NODE_ID")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.nodeID != 42 {
		t.Fatalf("expected nodeID 42 got %d", base.nodeID)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("CYPHAL_BRIDGE_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("CYPHAL_BRIDGE_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("CYPHAL_BRIDGE_BAUD", "notint")
	t.Cleanup(func() { os.Unsetenv("CYPHAL_BRIDGE_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
