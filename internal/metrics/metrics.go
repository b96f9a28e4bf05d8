package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the streaming client. Each
// instance carries its own Registry rather than registering against the
// global default one, since an embedding process may construct more than
// one Engine (and tests construct many) and re-registering the same
// collector names on prometheus.DefaultRegisterer panics.
type Metrics struct {
	Registry *prometheus.Registry

	FramesDecodedTotal prometheus.Counter
	FramesDroppedTotal prometheus.Counter
	Reconnects         prometheus.Counter
	HeartbeatsTotal    prometheus.Counter

	DispatchDur         prometheus.Histogram
	CallbackPanicsTotal prometheus.Counter

	OutboundQueueDepth  prometheus.Gauge
	OutboundDropsTotal  prometheus.Counter
	OutboundBypassTotal prometheus.Counter

	DescriptorCacheHits    prometheus.Counter
	DescriptorCacheMisses  prometheus.Counter
	DescriptorFetchDur     prometheus.Histogram
	DescriptorBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open

	UnknownTagsTotal *prometheus.CounterVec // labels: method

	SubscriptionsActive *prometheus.GaugeVec // labels: kind=quote|candle|study
}

// NewMetrics builds a fresh registry and registers all Prometheus metrics
// against it.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesDecodedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_frames_decoded_total",
			Help: "Total wire frames successfully decoded",
		}),
		FramesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_frames_dropped_total",
			Help: "Frames dropped due to malformed payloads",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_reconnects_total",
			Help: "Total transport reconnection attempts",
		}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_heartbeats_total",
			Help: "Total heartbeat frames echoed back",
		}),

		DispatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tvstream_dispatch_duration_seconds",
			Help:    "Dispatcher routing latency per inbound frame",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		CallbackPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_callback_panics_recovered_total",
			Help: "Panics recovered from user callbacks invoked by the dispatcher",
		}),

		OutboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tvstream_outbound_queue_depth",
			Help: "Current occupancy of the outbound frame ring buffer",
		}),
		OutboundDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_outbound_drops_total",
			Help: "Outbound frames dropped because the queue was full",
		}),
		OutboundBypassTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_outbound_bypass_total",
			Help: "Bootstrap and heartbeat-echo frames written directly, bypassing the queue",
		}),

		DescriptorCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_descriptor_cache_hits_total",
			Help: "Study descriptor cache hits",
		}),
		DescriptorCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvstream_descriptor_cache_misses_total",
			Help: "Study descriptor cache misses",
		}),
		DescriptorFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tvstream_descriptor_fetch_duration_seconds",
			Help:    "Study descriptor fetch latency against the metadata endpoint",
			Buckets: prometheus.DefBuckets,
		}),
		DescriptorBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tvstream_descriptor_breaker_state",
			Help: "Descriptor fetcher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		UnknownTagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvstream_unknown_tags_total",
			Help: "Inbound frames referencing a series/study tag with no registered subscription",
		}, []string{"method"}),

		SubscriptionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tvstream_subscriptions_active",
			Help: "Active subscriptions by kind",
		}, []string{"kind"}),
	}

	m.Registry.MustRegister(
		m.FramesDecodedTotal,
		m.FramesDroppedTotal,
		m.Reconnects,
		m.HeartbeatsTotal,
		m.DispatchDur,
		m.CallbackPanicsTotal,
		m.OutboundQueueDepth,
		m.OutboundDropsTotal,
		m.OutboundBypassTotal,
		m.DescriptorCacheHits,
		m.DescriptorCacheMisses,
		m.DescriptorFetchDur,
		m.DescriptorBreakerState,
		m.UnknownTagsTotal,
		m.SubscriptionsActive,
	)

	return m
}

// HealthStatus represents the client's connection and subsystem health.
type HealthStatus struct {
	mu sync.RWMutex

	Connected         bool      `json:"connected"`
	LastFrameTime     time.Time `json:"last_frame_time"`
	DescriptorCacheOK bool      `json:"descriptor_cache_ok"`
	ReconnectAttempts int       `json:"reconnect_attempts"`

	StartedAt time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetConnected(v bool) {
	h.mu.Lock()
	h.Connected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFrameTime(t time.Time) {
	h.mu.Lock()
	h.LastFrameTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetDescriptorCacheOK(v bool) {
	h.mu.Lock()
	h.DescriptorCacheOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetReconnectAttempts(n int) {
	h.mu.Lock()
	h.ReconnectAttempts = n
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.Connected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	frameAge := ""
	if !h.LastFrameTime.IsZero() {
		frameAge = time.Since(h.LastFrameTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string `json:"status"`
		Uptime            string `json:"uptime"`
		Connected         bool   `json:"connected"`
		LastFrameTime     string `json:"last_frame_time"`
		FrameAge          string `json:"frame_age"`
		DescriptorCacheOK bool   `json:"descriptor_cache_ok"`
		ReconnectAttempts int    `json:"reconnect_attempts"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		Connected:         h.Connected,
		LastFrameTime:     h.LastFrameTime.Format(time.RFC3339),
		FrameAge:          frameAge,
		DescriptorCacheOK: h.DescriptorCacheOK,
		ReconnectAttempts: h.ReconnectAttempts,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server exposing registry's
// collectors (not the global default registry).
func NewServer(addr string, registry *prometheus.Registry, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
