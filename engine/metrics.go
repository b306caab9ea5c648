package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rewardkit"

var (
	rulesFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "rules_fired_total",
		Help:      "Rules whose conditions held for an incoming event",
	}, []string{"rule"})

	outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "outcomes_total",
		Help:      "Reward and spending attempts by kind and result",
	}, []string{"kind", "success"})

	evaluationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "evaluation_errors_total",
		Help:      "System failures that aborted event evaluation",
	}, []string{"stage"})

	commitConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "commit_conflicts_total",
		Help:      "Commits rejected by optimistic concurrency and retried",
	})

	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Time to evaluate all rules for one event",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	ruleCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "rule_cache_hits_total",
	})

	ruleCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "rule_cache_miss_total",
	})
)

// Collectors returns the engine's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		rulesFired, outcomes, evaluationErrors, commitConflicts,
		evaluationDuration, ruleCacheHits, ruleCacheMisses,
	}
}

// RegisterMetrics registers the engine collectors with reg, ignoring ones
// that are already registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
