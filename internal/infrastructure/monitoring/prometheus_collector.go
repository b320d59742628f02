package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

type PrometheusCollector struct {
	connections    prometheus.Gauge
	liveRooms      prometheus.Gauge
	droppedConns   *prometheus.CounterVec
	intents        *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	fanout         prometheus.Histogram
	persistTotal   *prometheus.CounterVec
	persistLatency prometheus.Histogram
	admissions     *prometheus.CounterVec
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the service metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cinewave_ws_connections",
			Help: "Open realtime connections on this instance",
		}),

		liveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cinewave_live_rooms",
			Help: "Rooms with live playback state held on this instance",
		}),

		droppedConns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cinewave_ws_dropped_connections_total",
			Help: "Connections closed by the server",
		}, []string{"reason"}),

		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cinewave_room_intents_total",
			Help: "Room intents by type and outcome",
		}, []string{"intent", "outcome"}),

		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cinewave_room_broadcasts_total",
			Help: "Room events fanned out to local connections",
		}, []string{"event"}),

		fanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cinewave_room_broadcast_recipients",
			Help:    "Local recipients per room event",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),

		persistTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cinewave_state_persist_total",
			Help: "Playback state writes by result",
		}, []string{"result"}),

		persistLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cinewave_state_persist_duration_seconds",
			Help:    "Time to persist one playback state, retries included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cinewave_stream_admissions_total",
			Help: "Stream lease operations by outcome",
		}, []string{"operation", "outcome"}),
	}
}

func (p *PrometheusCollector) RecordIntent(intent domain.EventType, outcome string) {
	p.intents.WithLabelValues(string(intent), outcome).Inc()
}

func (p *PrometheusCollector) RecordPersist(success bool, duration time.Duration) {
	result := "ok"
	if !success {
		result = "error"
	}
	p.persistTotal.WithLabelValues(result).Inc()
	p.persistLatency.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordAdmission(operation, outcome string) {
	p.admissions.WithLabelValues(operation, outcome).Inc()
}

func (p *PrometheusCollector) SetLiveRooms(count int) {
	p.liveRooms.Set(float64(count))
}

func (p *PrometheusCollector) SetConnections(count int) {
	p.connections.Set(float64(count))
}

func (p *PrometheusCollector) RecordDroppedConnection(reason string) {
	p.droppedConns.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordBroadcast(event domain.EventType, recipients int) {
	p.broadcasts.WithLabelValues(string(event)).Inc()
	p.fanout.Observe(float64(recipients))
}
