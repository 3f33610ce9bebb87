package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry holds the optimizer's Prometheus instruments on a private
// registry, served by the health server's /metrics endpoint.
type Telemetry struct {
	registry *prometheus.Registry

	EventsIngested     *prometheus.CounterVec
	MetricComputations *prometheus.CounterVec
	EpsilonSpent       prometheus.Counter
	BudgetExhaustions  prometheus.Counter
	SafetyCycles       prometheus.Counter
	Rollbacks          prometheus.Counter
	Graduations        prometheus.Counter
	Adjustments        prometheus.Counter
	ActiveExperiments  prometheus.Gauge
}

// NewTelemetry creates the optimizer's instruments on a fresh registry.
func NewTelemetry() *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Telemetry{
		registry: registry,

		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flywheel_events_ingested_total",
			Help: "Growth events ingested, by event type.",
		}, []string{"event_type"}),

		MetricComputations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flywheel_metric_computations_total",
			Help: "On-demand metric computations, by metric name.",
		}, []string{"metric"}),

		EpsilonSpent: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_privacy_epsilon_spent_total",
			Help: "Cumulative privacy budget consumed.",
		}),

		BudgetExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_privacy_budget_exhaustions_total",
			Help: "Metric computations rejected because the privacy budget was exhausted.",
		}),

		SafetyCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_safety_cycles_total",
			Help: "Completed safety/graduation maintenance cycles.",
		}),

		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_experiment_rollbacks_total",
			Help: "Experiments automatically rolled back by safety checks.",
		}),

		Graduations: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_experiment_graduations_total",
			Help: "Experiment traffic graduations applied.",
		}),

		Adjustments: factory.NewCounter(prometheus.CounterOpts{
			Name: "flywheel_economy_adjustments_total",
			Help: "Stability multiplier adjustments applied.",
		}),

		ActiveExperiments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flywheel_experiments_active",
			Help: "Experiments currently in active status.",
		}),
	}
}

// Registry exposes the underlying registry for the metrics endpoint.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }
