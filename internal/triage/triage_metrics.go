package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	Confidence       *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	DispatchesTotal  prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_triages_total",
			Help: "Total triage runs by terminal state.",
		}, []string{"state"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_triage_duration_seconds",
			Help:    "Wall-clock duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms .. ~164s
		}, []string{"state", "provider"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_triage_decisions_total",
			Help: "Decision rule outcomes by branch.",
		}, []string{"decision"}),
		Confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_triage_confidence",
			Help:    "Classification confidence of completed runs.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}, []string{"category"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_triage_stage_duration_seconds",
			Help:    "Duration of individual workflow stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~262s
		}, []string{"stage", "status"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_provider_calls_total",
			Help: "Provider calls by operation and status, after retries.",
		}, []string{"op", "status"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_provider_call_duration_seconds",
			Help:    "Duration of provider calls including retries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~41s
		}, []string{"op"}),
		DispatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskmate_triage_dispatches_total",
			Help: "Total background triage runs started.",
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.DecisionsTotal,
		m.Confidence,
		m.StageDuration,
		m.ProviderCalls,
		m.ProviderDuration,
		m.DispatchesTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnProviderCall: func(op string, duration float64, err error) {
			m.ProviderCalls.WithLabelValues(op, statusLabel(err)).Inc()
			m.ProviderDuration.WithLabelValues(op).Observe(duration)
		},
		OnStage: func(state State, duration float64, err error) {
			m.StageDuration.WithLabelValues(string(state), statusLabel(err)).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(string(e.State)).Inc()
			m.TriageDuration.WithLabelValues(string(e.State), e.Provider).Observe(e.Duration)
			if e.State == StateCompleted {
				m.DecisionsTotal.WithLabelValues(string(e.Decision)).Inc()
				m.Confidence.WithLabelValues(string(e.Category)).Observe(e.Confidence)
			}
		},
		OnDispatch: func() {
			m.DispatchesTotal.Inc()
		},
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
