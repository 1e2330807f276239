// Package metrics holds the process's Prometheus instruments. Label values
// are always drawn from small fixed sets; never label by player or room.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Game loop
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_step_duration_seconds",
		Help:    "Time spent running one unit of work on the game loop",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"kind"}) // Bounded: "message", "connect", "disconnect", "sweep", "query"

	loopQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_loop_queue_depth",
		Help: "Units of work waiting for the game loop",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_sessions_active",
		Help: "Authenticated sessions",
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_rooms_active",
		Help: "Non-empty rooms",
	})

	dropsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_drops_active",
		Help: "Drops on the floor across all rooms",
	})

	messagesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_messages_received_total",
		Help: "Inbound messages by type",
	}, []string{"type"}) // Bounded by the protocol's message set

	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_rejections_total",
		Help: "Requests rejected by validation",
	}, []string{"kind", "reason"})

	reactorsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_reactors_destroyed_total",
		Help: "Reactors brought to zero hp",
	})

	dropsLooted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_drops_looted_total",
		Help: "Drops picked up",
	})

	dropsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_drops_expired_total",
		Help: "Drops removed by the expiry sweep",
	})

	saveResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persist_saves_total",
		Help: "Snapshot saves by outcome",
	}, []string{"result"}) // Bounded: "ok", "error"

	// Transport
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected before upgrade",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_limit", "capacity"

	connectionClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_closed_total",
		Help: "Connections closed by the server, by close reason",
	}, []string{"reason"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently open websocket connections",
	})

	wsMessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_sent_total",
		Help: "Frames queued for delivery",
	})

	wsMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "Frames dropped instead of delivered",
	}, []string{"reason"}) // Bounded: "queue_full", "rate_limit", "decode"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})
)

// ObserveStep records how long one unit of loop work took.
func ObserveStep(kind string, d time.Duration) {
	stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func SetQueueDepth(n int) { loopQueueDepth.Set(float64(n)) }

// SetWorld updates the world-size gauges.
func SetWorld(sessions, rooms, drops int) {
	sessionsActive.Set(float64(sessions))
	roomsActive.Set(float64(rooms))
	dropsActive.Set(float64(drops))
}

func MessageReceived(msgType string) { messagesIn.WithLabelValues(msgType).Inc() }

// Rejected counts a validation failure. kind is the request type, reason the
// machine-readable denial reason.
func Rejected(kind, reason string) { rejections.WithLabelValues(kind, reason).Inc() }

func ReactorDestroyed() { reactorsDestroyed.Inc() }

func DropLooted() { dropsLooted.Inc() }

func DropsExpired(n int) { dropsExpired.Add(float64(n)) }

// SaveResult counts a finished persistence attempt.
func SaveResult(err error) {
	if err != nil {
		saveResults.WithLabelValues("error").Inc()
		return
	}
	saveResults.WithLabelValues("ok").Inc()
}

// ConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_limit", "capacity"
func ConnectionRejected(reason string) { connectionRejected.WithLabelValues(reason).Inc() }

func ConnectionClosed(reason string) { connectionClosed.WithLabelValues(reason).Inc() }

func SetWSConnections(n int) { wsConnectionsActive.Set(float64(n)) }

func MessageSent() { wsMessagesOut.Inc() }

func MessageDropped(reason string) { wsMessagesDropped.WithLabelValues(reason).Inc() }

// RecordRequest records HTTP request metrics.
func RecordRequest(method, endpoint string, status int, d time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(d.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }
