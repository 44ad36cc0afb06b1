// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ShapedResponses   *prometheus.CounterVec // labels: kind, step (none|drift|sentence|hard)
	TokenValidations  *prometheus.CounterVec // labels: result (valid|degraded|missing_critical|invalid)
	BroadcasterLookup *prometheus.CounterVec // labels: result (resolved|cached|not_found)
	LLMRequests       *prometheus.CounterVec // labels: kind, result (ok|error|rejected)
	TokenRefreshes    *prometheus.CounterVec // labels: account, result (ok|error)

	// Histograms (seconds)
	LLMDuration *prometheus.HistogramVec // labels: kind

	// Gauges
	GateReady       prometheus.Gauge // 1 when the startup gate passed
	LLMCircuitOpen  prometheus.Gauge // 1=open,0=closed
	FeaturesEnabled *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ShapedResponses = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kissbot_shaped_responses_total", Help: "Responses shaped, by context kind and truncation step"}, []string{"kind", "step"})
		TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kissbot_token_validations_total", Help: "OAuth token validations by result"}, []string{"result"})
		BroadcasterLookup = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kissbot_broadcaster_lookups_total", Help: "Broadcaster id resolutions by result"}, []string{"result"})
		LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kissbot_llm_requests_total", Help: "Local LLM requests by context kind and result"}, []string{"kind", "result"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kissbot_token_refreshes_total", Help: "OAuth token refresh attempts"}, []string{"account", "result"})
		LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "kissbot_llm_duration_seconds", Help: "Local LLM request duration seconds", Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 20}}, []string{"kind"})
		GateReady = promauto.NewGauge(prometheus.GaugeOpts{Name: "kissbot_gate_ready", Help: "Startup gate passed=1"})
		LLMCircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "kissbot_llm_circuit_open", Help: "LLM circuit breaker open=1 closed=0"})
		FeaturesEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "kissbot_feature_enabled", Help: "Bot feature availability after scope validation (1=enabled)"}, []string{"feature"})
	})
}

// ObserveShape records which truncation steps fired for a response.
func ObserveShape(kind string, drift, sentence, hard bool) {
	if ShapedResponses == nil {
		return
	}
	steps := 0
	if drift {
		ShapedResponses.WithLabelValues(kind, "drift").Inc()
		steps++
	}
	if sentence {
		ShapedResponses.WithLabelValues(kind, "sentence").Inc()
		steps++
	}
	if hard {
		ShapedResponses.WithLabelValues(kind, "hard").Inc()
		steps++
	}
	if steps == 0 {
		ShapedResponses.WithLabelValues(kind, "none").Inc()
	}
}

// IncValidation counts a token validation outcome.
func IncValidation(result string) {
	if TokenValidations != nil {
		TokenValidations.WithLabelValues(result).Inc()
	}
}

// IncLookup counts a broadcaster id resolution outcome.
func IncLookup(result string) {
	if BroadcasterLookup != nil {
		BroadcasterLookup.WithLabelValues(result).Inc()
	}
}

// IncRefresh counts a token refresh attempt.
func IncRefresh(account, result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(account, result).Inc()
	}
}

// ObserveLLM records an LLM request outcome and its duration.
func ObserveLLM(kind, result string, d time.Duration) {
	if LLMRequests != nil {
		LLMRequests.WithLabelValues(kind, result).Inc()
	}
	if LLMDuration != nil && result != "rejected" {
		LLMDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetGateReady sets the gate gauge.
func SetGateReady(ok bool) {
	if GateReady != nil {
		GateReady.Set(boolFloat(ok))
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if LLMCircuitOpen != nil {
		LLMCircuitOpen.Set(boolFloat(open))
	}
}

// SetFeature records whether a bot feature is enabled.
func SetFeature(feature string, enabled bool) {
	if FeaturesEnabled != nil {
		FeaturesEnabled.WithLabelValues(feature).Set(boolFloat(enabled))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
