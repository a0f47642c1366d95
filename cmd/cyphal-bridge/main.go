package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/internal/metrics"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, mdns.go, metrics_logger.go, backend.go, heartbeat.go.
func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("cyphal-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("register_env_example", "register", "uavcan.node.id", "env", registerEnvName("uavcan.node.id"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	red, cleanup, err := buildRedundantTransport(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer cleanup()

	heartbeatSubject := roottransport.Message(uint16(cfg.subjectID))
	outSpec := roottransport.SessionSpecifier{DataSpecifier: heartbeatSubject}
	inSpec := roottransport.SessionSpecifier{DataSpecifier: heartbeatSubject}
	meta := roottransport.PayloadMetadata{ExtentBytes: 63}

	out, err := red.OutputSession(outSpec, meta)
	if err != nil {
		l.Error("output_session_error", "error", err)
		return
	}
	in, err := red.InputSession(inSpec, meta)
	if err != nil {
		l.Error("input_session_error", "error", err)
		return
	}
	runHeartbeatPublisher(ctx, out, cfg.publishInterval, l, &wg)
	runHeartbeatSubscriber(ctx, in, l, &wg)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		go func() {
			if !cfg.mdnsEnable {
				return
			}
			port := metricsPort(cfg.metricsAddr)
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = out.Close()
	_ = in.Close()
	wg.Wait()
}

// metricsPort extracts the numeric port from a "host:port" or ":port"
// listen address, used only to advertise it over mDNS.
func metricsPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, err := strconv.Atoi(p); err == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
