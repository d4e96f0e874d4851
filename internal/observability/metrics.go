package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames processed, by direction and message type.",
		},
		[]string{"direction", "type"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "frame_bytes_total",
			Help:      "Frame payload bytes processed, by direction and message type.",
		},
		[]string{"direction", "type"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Fatal decode errors, by error kind.",
		},
		[]string{"kind"},
	)
	handshakeDiscards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "handshake_discards_total",
			Help:      "Frames discarded by the handshake gate, by message type.",
		},
		[]string{"type"},
	)
	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "dropped_frames_total",
			Help:      "Delivered frames dropped before a handler ran, by type and reason.",
		},
		[]string{"type", "reason"},
	)
	handlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "handler_errors_total",
			Help:      "Handler failures, by message type.",
		},
		[]string{"type"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deskwire",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently running, by role.",
		},
		[]string{"role"},
	)
	recordedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "record",
			Name:      "frames_total",
			Help:      "Frames persisted to the session recording store.",
		},
		[]string{"direction"},
	)
	mfaChallenges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "bridge",
			Name:      "mfa_challenges_total",
			Help:      "MFA challenges, by lifecycle outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests on the diagnostics surface.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			frameBytes,
			decodeErrors,
			handshakeDiscards,
			droppedFrames,
			handlerErrors,
			activeSessions,
			recordedFrames,
			mfaChallenges,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(direction, msgType string, bytes int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, msgType).Inc()
	frameBytes.WithLabelValues(direction, msgType).Add(float64(bytes))
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordHandshakeDiscard(msgType string) {
	RegisterMetrics()
	handshakeDiscards.WithLabelValues(msgType).Inc()
}

func RecordDroppedFrame(msgType, reason string) {
	RegisterMetrics()
	droppedFrames.WithLabelValues(msgType, reason).Inc()
}

func RecordHandlerError(msgType string) {
	RegisterMetrics()
	handlerErrors.WithLabelValues(msgType).Inc()
}

func SessionOpened(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Inc()
}

func SessionClosed(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Dec()
}

func RecordRecordedFrame(direction string) {
	RegisterMetrics()
	recordedFrames.WithLabelValues(direction).Inc()
}

func RecordMFAChallenge(outcome string) {
	RegisterMetrics()
	mfaChallenges.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
