package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polybuild"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	toolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "Number of external tool invocations by outcome.",
		}, []string{"tool", "step", "result"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Wall time of external tool invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "step"},
	)
	builds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "total",
			Help:      "Number of model builds by outcome.",
		}, []string{"model", "language", "result"},
	)
	buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall time of model builds including dependencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"language"},
	)
	productsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "products_removed_total",
			Help:      "Number of build products removed by cleanup.",
		}, []string{"model"},
	)
	cleanupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "cleanup_failures_total",
			Help:      "Number of products that could not be removed.",
		}, []string{"model"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "state_transitions_total",
			Help:      "Number of build state transitions.",
		}, []string{"model", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "current_state",
			Help:      "Current build state of models (1 = active state, 0 = inactive).",
		}, []string{"model", "state"},
	)

	modelsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "running",
			Help:      "Number of model processes currently running.",
		},
	)
	modelLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "output_lines_total",
			Help:      "Lines of output read from model processes.",
		}, []string{"model"},
	)
	modelExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "exits_total",
			Help:      "Model process exits by exit code and whether it was killed.",
		}, []string{"model", "code", "killed"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		toolInvocations, toolDuration, builds, buildDuration, productsRemoved, cleanupFailures,
		stateTransitions, currentStates, modelsRunning, modelLines, modelExits,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

// ObserveToolCall records one compile, link, archive or delegate step.
func ObserveToolCall(tool, step string, seconds float64, ok bool) {
	if regOK.Load() {
		toolInvocations.WithLabelValues(tool, step, result(ok)).Inc()
		toolDuration.WithLabelValues(tool, step).Observe(seconds)
	}
}

func ObserveBuild(model, language string, seconds float64, ok bool) {
	if regOK.Load() {
		builds.WithLabelValues(model, language, result(ok)).Inc()
		buildDuration.WithLabelValues(language).Observe(seconds)
	}
}

func AddProductsRemoved(model string, n int) {
	if regOK.Load() && n > 0 {
		productsRemoved.WithLabelValues(model).Add(float64(n))
	}
}

func IncCleanupFailure(model string) {
	if regOK.Load() {
		cleanupFailures.WithLabelValues(model).Inc()
	}
}

func RecordStateTransition(model, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(model, from, to).Inc()
	}
}

func SetCurrentState(model, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(model, state).Set(value)
	}
}

func IncRunning() {
	if regOK.Load() {
		modelsRunning.Inc()
	}
}

func DecRunning() {
	if regOK.Load() {
		modelsRunning.Dec()
	}
}

func AddLines(model string, n int) {
	if regOK.Load() && n > 0 {
		modelLines.WithLabelValues(model).Add(float64(n))
	}
}

func IncExit(model string, code int, killed bool) {
	if regOK.Load() {
		modelExits.WithLabelValues(model, strconv.Itoa(code), strconv.FormatBool(killed)).Inc()
	}
}
