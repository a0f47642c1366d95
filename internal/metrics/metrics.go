package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/opencyphal-go/transport/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges, labeled by transport name ("can", "serial")
// where a metric applies to more than one transport.
var (
	FramesRx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_frames_rx_total",
		Help: "Total media frames received, by transport.",
	}, []string{"transport"})
	FramesTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_frames_tx_total",
		Help: "Total media frames transmitted, by transport.",
	}, []string{"transport"})
	TransfersRx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_transfers_rx_total",
		Help: "Total transfers successfully reassembled, by transport.",
	}, []string{"transport"})
	TransfersTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_transfers_tx_total",
		Help: "Total transfers successfully serialized and enqueued, by transport.",
	}, []string{"transport"})
	ReassemblyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_reassembly_errors_total",
		Help: "Total frames rejected during reassembly, by transport and error kind.",
	}, []string{"transport", "kind"})
	TxOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_tx_overflow_total",
		Help: "Total outgoing frames dropped due to a full transmit queue, plus received transfers dropped due to a full input-session queue, by transport.",
	}, []string{"transport"})
	RedundantDuplicatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redundant_duplicates_dropped_total",
		Help: "Total transfers dropped by the redundant transport's deduplicator, by strategy.",
	}, []string{"strategy"})
	RedundantInferiorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redundant_inferior_send_failures_total",
		Help: "Total send failures observed from an individual inferior transport.",
	}, []string{"inferior"})
	CANFilterSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "can_filter_slots_in_use",
		Help: "Number of hardware acceptance filter slots currently programmed.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrCANRead      = "can_read"
	ErrCANWrite     = "can_write"
	ErrCANOverflow  = "can_tx_overflow"
	ErrSerialRead   = "serial_read"
	ErrSerialWrite  = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process inspection (avoids scraping
// Prometheus from within the same process just to log a summary).
var (
	localFramesRx      [2]uint64 // indexed by transportIndex
	localFramesTx      [2]uint64
	localTransfersRx   [2]uint64
	localTransfersTx   [2]uint64
	localReassemblyErr [2]uint64
	localTxOverflow    [2]uint64
	localErrors        uint64
)

// transportIndex maps the small, fixed set of transport label values to a
// mirrored-counter array slot; anything else is tracked only in Prometheus.
func transportIndex(name string) (int, bool) {
	switch name {
	case "can":
		return 0, true
	case "serial":
		return 1, true
	default:
		return 0, false
	}
}

// Snapshot is a cheap copy of local counters for one transport.
type Snapshot struct {
	FramesRx      uint64
	FramesTx      uint64
	TransfersRx   uint64
	TransfersTx   uint64
	ReassemblyErr uint64
	TxOverflow    uint64
}

// Snap returns the mirrored counters for the named transport ("can" or
// "serial"); unknown names return a zero Snapshot.
func Snap(transport string) Snapshot {
	i, ok := transportIndex(transport)
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		FramesRx:      atomic.LoadUint64(&localFramesRx[i]),
		FramesTx:      atomic.LoadUint64(&localFramesTx[i]),
		TransfersRx:   atomic.LoadUint64(&localTransfersRx[i]),
		TransfersTx:   atomic.LoadUint64(&localTransfersTx[i]),
		ReassemblyErr: atomic.LoadUint64(&localReassemblyErr[i]),
		TxOverflow:    atomic.LoadUint64(&localTxOverflow[i]),
	}
}

func IncFramesRx(transport string) {
	FramesRx.WithLabelValues(transport).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localFramesRx[i], 1)
	}
}

func IncFramesTx(transport string) {
	FramesTx.WithLabelValues(transport).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localFramesTx[i], 1)
	}
}

func IncTransfersRx(transport string) {
	TransfersRx.WithLabelValues(transport).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localTransfersRx[i], 1)
	}
}

func IncTransfersTx(transport string) {
	TransfersTx.WithLabelValues(transport).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localTransfersTx[i], 1)
	}
}

func IncReassemblyError(transport, kind string) {
	ReassemblyErrors.WithLabelValues(transport, kind).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localReassemblyErr[i], 1)
	}
}

func IncTxOverflow(transport string) {
	TxOverflows.WithLabelValues(transport).Inc()
	if i, ok := transportIndex(transport); ok {
		atomic.AddUint64(&localTxOverflow[i], 1)
	}
}

func IncRedundantDuplicateDropped(strategy string) { RedundantDuplicatesDropped.WithLabelValues(strategy).Inc() }

func IncRedundantInferiorFailure(inferior string) { RedundantInferiorFailures.WithLabelValues(inferior).Inc() }

func SetCANFilterSlotsInUse(n int) { CANFilterSlotsInUse.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrCANRead, ErrCANWrite, ErrCANOverflow,
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
