// Package metrics holds the Prometheus instruments of the live engine. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statuses lists every session status label so the status gauge can be zeroed on change.
var Statuses = []string{"disconnected", "connecting", "connected", "listening", "speaking", "error"}

// Metrics contains all Prometheus metrics for the live engine
type Metrics struct {
	// Session metrics
	SessionStatus   *prometheus.GaugeVec
	SessionsStarted prometheus.Counter
	TransportErrors prometheus.Counter

	// Outbound metrics
	FramesSent   *prometheus.CounterVec
	SendsDropped *prometheus.CounterVec

	// Inbound metrics
	MessagesReceived *prometheus.CounterVec
	DecodeDrops      *prometheus.CounterVec
	Interruptions    *prometheus.CounterVec

	// Playback metrics
	PlaybackScheduled  prometheus.Counter
	PlaybackQueueDepth prometheus.Gauge
	PlaybackLead       prometheus.Histogram

	// Capture metrics
	CaptureFrames *prometheus.CounterVec
	InputLevel    prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vai_live_session_status",
			Help: "1 for the current session status, 0 otherwise",
		}, []string{"status"}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "vai_live_sessions_started_total",
			Help: "Total number of connect attempts",
		}),
		TransportErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vai_live_transport_errors_total",
			Help: "Total number of terminal transport failures",
		}),

		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_frames_sent_total",
			Help: "Total number of frames written to the transport",
		}, []string{"kind"}),
		SendsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_sends_dropped_total",
			Help: "Total number of outbound frames dropped before or during write",
		}, []string{"kind", "reason"}),

		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_messages_received_total",
			Help: "Total number of live messages emitted from inbound frames",
		}, []string{"kind"}),
		DecodeDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_decode_drops_total",
			Help: "Total number of inbound frames or chunks dropped as undecodable",
		}, []string{"stage"}),
		Interruptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}, []string{"source"}),

		PlaybackScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "vai_live_playback_scheduled_total",
			Help: "Total number of audio chunks scheduled for playback",
		}),
		PlaybackQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "vai_live_playback_queue_depth",
			Help: "Current number of chunks waiting behind the in-flight chunk",
		}),
		PlaybackLead: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vai_live_playback_lead_seconds",
			Help:    "Distance between the audio clock and a chunk's scheduled start",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		CaptureFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vai_live_capture_frames_total",
			Help: "Total number of captured frames forwarded",
		}, []string{"tap"}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "vai_live_input_level_rms",
			Help: "RMS level of the last captured audio frame",
		}),
	}
}

// Handler returns an HTTP handler for the metrics endpoint. A nil g serves the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetStatus marks status as the current session status
func (m *Metrics) SetStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.SessionStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordTransportError() {
	if m == nil {
		return
	}
	m.TransportErrors.Inc()
}

func (m *Metrics) RecordFrameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

// RecordSendDropped counts an outbound frame that never reached the wire
func (m *Metrics) RecordSendDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.SendsDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDecodeDrop(stage string) {
	if m == nil {
		return
	}
	m.DecodeDrops.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordInterruption(source string) {
	if m == nil {
		return
	}
	m.Interruptions.WithLabelValues(source).Inc()
}

// RecordScheduled records one scheduled chunk and how far ahead of the clock it starts
func (m *Metrics) RecordScheduled(leadSeconds float64) {
	if m == nil {
		return
	}
	m.PlaybackScheduled.Inc()
	m.PlaybackLead.Observe(leadSeconds)
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordCaptureFrame(tap string) {
	if m == nil {
		return
	}
	m.CaptureFrames.WithLabelValues(tap).Inc()
}

func (m *Metrics) SetInputLevel(rms float64) {
	if m == nil {
		return
	}
	m.InputLevel.Set(rms)
}
