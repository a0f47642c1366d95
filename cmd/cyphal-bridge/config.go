package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds the flag+env configuration for the demo bridge: which
// two inferiors to attach, the local node-ID (if any), and the ambient
// logging/metrics/mDNS knobs.
type appConfig struct {
	canIf              string
	serialDev          string
	baud               int
	serialReadTO       time.Duration
	nodeID             int // -1 means anonymous
	subjectID          int
	publishInterval    time.Duration
	transferIDTimeout  time.Duration
	logFormat          string
	logLevel           string
	metricsAddr        string
	logMetricsEvery    time.Duration
	mdnsEnable         bool
	mdnsName           string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	canIf := flag.String("can-if", "can0", "SocketCAN interface for the CAN inferior")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path for the serial inferior")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	nodeID := flag.Int("node-id", -1, "Local node-ID (0..127; -1 = anonymous)")
	subjectID := flag.Int("subject-id", 7509, "Demo heartbeat subject-ID to publish and subscribe to")
	publishInterval := flag.Duration("publish-interval", time.Second, "Heartbeat publish interval (0 disables publishing)")
	transferIDTimeout := flag.Duration("transfer-id-timeout", 2*time.Second, "Per-session transfer-ID timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the metrics endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default cyphal-bridge-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.nodeID = *nodeID
	cfg.subjectID = *subjectID
	cfg.publishInterval = *publishInterval
	cfg.transferIDTimeout = *transferIDTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or sockets.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.nodeID < -1 || c.nodeID > 127 {
		return fmt.Errorf("node-id must be in -1..127 (got %d)", c.nodeID)
	}
	if c.subjectID < 0 || c.subjectID > 8191 {
		return fmt.Errorf("subject-id must be in 0..8191 (got %d)", c.subjectID)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.transferIDTimeout <= 0 {
		return fmt.Errorf("transfer-id-timeout must be > 0")
	}
	if c.publishInterval < 0 {
		return fmt.Errorf("publish-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CYPHAL_BRIDGE_* environment variables onto cfg,
// unless the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	noteErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_CAN_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_BAUD"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err == nil && n > 0 {
				c.baud = n
			} else if err != nil {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_BAUD: %w", err))
			}
		}
	}
	if _, ok := set["node-id"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_NODE_ID"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				c.nodeID = n
			} else {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_NODE_ID: %w", err))
			}
		}
	}
	if _, ok := set["subject-id"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_SUBJECT_ID"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				c.subjectID = n
			} else {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_SUBJECT_ID: %w", err))
			}
		}
	}
	if _, ok := set["publish-interval"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_PUBLISH_INTERVAL"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err == nil && d >= 0 {
				c.publishInterval = d
			} else if err != nil {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_PUBLISH_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["transfer-id-timeout"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_TRANSFER_ID_TIMEOUT"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err == nil && d > 0 {
				c.transferIDTimeout = d
			} else if err != nil {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_TRANSFER_ID_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_SERIAL_READ_TIMEOUT"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_SERIAL_READ_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				noteErr(fmt.Errorf("invalid CYPHAL_BRIDGE_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CYPHAL_BRIDGE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

// registerEnvName implements the external register-store collaborator's
// naming convention: UPPER(replace('.', '__')). The demo binary uses it
// only to log what a register name would resolve to; the register store
// itself stays out of scope.
func registerEnvName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, ".", "__"))
}
