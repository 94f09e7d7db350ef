package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"ai-meal-tracker/internal/nutrition"
)

// Analyses exports counters and latencies of nutrition analyses.
type Analyses struct {
	total   *prometheus.CounterVec
	faults  *prometheus.CounterVec
	latency *prometheus.HistogramVec
	tokens  *prometheus.CounterVec
	store   *Store
}

// NewAnalyses registers the analysis collectors with reg. When store is not
// nil, model calls are also persisted.
func NewAnalyses(reg prometheus.Registerer, store *Store) *Analyses {
	a := &Analyses{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_tracker_analyses_total",
			Help: "Nutrition analyses by result source.",
		}, []string{"source"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_tracker_analysis_faults_total",
			Help: "Model analyses that fell back to the offline table, by reason.",
		}, []string{"reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meal_tracker_analysis_duration_seconds",
			Help:    "Time spent on the model path of an analysis.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_tracker_llm_tokens_total",
			Help: "Tokens consumed by model calls.",
		}, []string{"kind"}),
		store: store,
	}
	reg.MustRegister(a.total, a.faults, a.latency, a.tokens)
	return a
}

// ObserveAnalysis implements meal.AnalysisObserver.
func (a *Analyses) ObserveAnalysis(an nutrition.Analysis) {
	source := string(an.Source)
	a.total.WithLabelValues(source).Inc()
	a.latency.WithLabelValues(source).Observe(an.Meta.Latency.Seconds())
	if an.Fault != nil {
		a.faults.WithLabelValues(string(an.Fault.Reason)).Inc()
	}
	// Counters panic on negative deltas and usage comes from the provider.
	a.tokens.WithLabelValues("prompt").Add(float64(max(0, an.Meta.Usage.PromptTokens)))
	a.tokens.WithLabelValues("completion").Add(float64(max(0, an.Meta.Usage.CompletionTokens)))

	if a.store != nil {
		if err := a.store.RecordMeta(context.Background(), an.Meta, an.Source); err != nil {
			slog.Error("Failed to record execution metric", "error", err)
		}
	}
}
