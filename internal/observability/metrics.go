package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hydromap"

// Metrics holds the Prometheus counters, histograms, and gauges for render
// runs and the topology viewer.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec   // labels: outcome={success,error}
	StageDuration   *prometheus.HistogramVec // labels: stage={load,edit,simulate,render,publish}
	SimulationSteps prometheus.Histogram
	SolverTrials    prometheus.Histogram
	EditsApplied    *prometheus.CounterVec // labels: op
	PublishErrors   *prometheus.CounterVec // labels: sink
	PipelineRunning prometheus.Gauge

	// Viewer metrics.
	ViewRequests *prometheus.CounterVec // labels: source={sample,upload}
	ViewErrors   *prometheus.CounterVec // labels: kind={upload,parse,sample,render}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Render pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each render pipeline stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		SimulationSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_steps",
			Help:      "Number of hydraulic time steps per simulation.",
			Buckets:   []float64{1, 2, 6, 12, 25, 49, 97, 169},
		}),
		SolverTrials: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_trials",
			Help:      "Gradient iterations taken by the final time step.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 40, 100},
		}),
		EditsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_applied_total",
			Help:      "Topology edits applied by operation.",
		}, []string{"op"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failures delivering run artifacts or summaries by sink.",
		}, []string{"sink"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a render run is in progress, 0 otherwise.",
		}),
		ViewRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_requests_total",
			Help:      "Topology viewer requests by network source.",
		}, []string{"source"}),
		ViewErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_errors_total",
			Help:      "Topology viewer failures by kind.",
		}, []string{"kind"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when map captions are geocoded, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.StageDuration,
		m.SimulationSteps,
		m.SolverTrials,
		m.EditsApplied,
		m.PublishErrors,
		m.PipelineRunning,
		m.ViewRequests,
		m.ViewErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "runs_total"}, []string{"outcome"}),
		StageDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "stage_duration_seconds"}, []string{"stage"}),
		SimulationSteps:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "simulation_steps"}),
		SolverTrials:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "solver_trials"}),
		EditsApplied:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "edits_applied_total"}, []string{"op"}),
		PublishErrors:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "publish_errors_total"}, []string{"sink"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		ViewRequests:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "view_requests_total"}, []string{"source"}),
		ViewErrors:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "view_errors_total"}, []string{"kind"}),
		GeocodeRequests:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_requests_total"}, []string{"method", "outcome"}),
		GeocodeCache:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_cache_total"}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "geocode_api_duration_seconds"}, []string{"method"}),
		GeocodeEnabled:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "geocode_enabled"}),
	}
}
