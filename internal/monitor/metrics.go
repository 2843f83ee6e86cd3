package monitor

import (
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/logger"
)

var (
	// RestartTotal tracks agent restarts, partitioned by reason (exit, launch_error).
	RestartTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowy_agent_restarts_total",
		Help: "Total number of agent process restarts",
	}, []string{"reason"})
	// AgentState is 1 for the supervisor's current run state and 0 otherwise.
	AgentState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snowy_agent_state",
		Help: "Current supervisor run state",
	}, []string{"state"})
	// BridgeRequests counts bridge requests by route and status code.
	BridgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowy_bridge_requests_total",
		Help: "Total number of hardware bridge requests",
	}, []string{"route", "code"})
	// CapabilityDuration tracks how long device operations take.
	CapabilityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowy_capability_duration_seconds",
		Help:    "Time taken by capability providers",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"capability"})
	// WakeEvents counts wake phrase detections.
	WakeEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snowy_wake_events_total",
		Help: "Total number of wake phrase detections",
	})
	// AffectChanges counts affect transitions by target state.
	AffectChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowy_affect_changes_total",
		Help: "Total number of affect state changes",
	}, []string{"state"})
	// RelayTotal counts chat relay outcomes.
	RelayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowy_relay_total",
		Help: "Chat relay invocations by outcome",
	}, []string{"outcome"})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. It is safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RestartTotal, AgentState, BridgeRequests, CapabilityDuration, WakeEvents, AffectChanges, RelayTotal)
	})
}

// SetAgentState flips the state gauge so exactly one state reads 1.
func SetAgentState(state consts.ServiceRunState) {
	for _, s := range consts.AllRunStates {
		v := 0.0
		if s == state {
			v = 1
		}
		AgentState.WithLabelValues(string(s)).Set(v)
	}
}

// InitMetrics registers Prometheus metrics and starts an HTTP server to expose them
// on the given listener. The returned server can be shut down by the caller.
func InitMetrics(l net.Listener) *http.Server {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		logger.Log.Info("Metrics server starting", "addr", l.Addr().String())
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
	return srv
}

// Personal.AI order the ending
