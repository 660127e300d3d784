package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartRecomputeTotal counts cart reads and mutations by pricing path (fast, slow, mutation).
	CartRecomputeTotal *prometheus.CounterVec
	// CartFlashRevertedTotal counts cart lines whose flash pricing was reverted.
	CartFlashRevertedTotal prometheus.Counter
	// CartOfferOutcomeTotal counts offer group allocations by resulting status.
	CartOfferOutcomeTotal *prometheus.CounterVec
	// RepriceJobsTotal counts scheduled reprice jobs by outcome.
	RepriceJobsTotal *prometheus.CounterVec
	// BreakerState reports the circuit breaker state per target (0 closed, 1 open, 2 half-open).
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartRecomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_recompute_total",
			Help:      "Count of cart pricing passes by path.",
		}, []string{"path"})
		CartFlashRevertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_flash_reverted_total",
			Help:      "Number of cart lines reverted from expired flash sale pricing.",
		})
		CartOfferOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_offer_outcome_total",
			Help:      "Count of offer group allocations by status.",
		}, []string{"status"})
		RepriceJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_reprice_jobs_total",
			Help:      "Count of cart reprice job outcomes.",
		}, []string{"result"})

		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open.",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions.",
		}, []string{"target", "from", "to"})

		CartRecomputeTotal = register(reg, CartRecomputeTotal)
		CartFlashRevertedTotal = register(reg, CartFlashRevertedTotal)
		CartOfferOutcomeTotal = register(reg, CartOfferOutcomeTotal)
		RepriceJobsTotal = register(reg, RepriceJobsTotal)
		BreakerState = register(reg, BreakerState)
		BreakerTransitions = register(reg, BreakerTransitions)
	})
}

// ObserveCartRecompute increments the pricing path counter when metrics are registered.
func ObserveCartRecompute(path string) {
	if CartRecomputeTotal != nil {
		CartRecomputeTotal.WithLabelValues(path).Inc()
	}
}

// ObserveFlashReverted adds n reverted lines.
func ObserveFlashReverted(n int) {
	if CartFlashRevertedTotal != nil && n > 0 {
		CartFlashRevertedTotal.Add(float64(n))
	}
}

// ObserveOfferOutcome records one offer group allocation.
func ObserveOfferOutcome(status string) {
	if CartOfferOutcomeTotal != nil {
		CartOfferOutcomeTotal.WithLabelValues(status).Inc()
	}
}

// ObserveRepriceJob records a reprice job outcome.
func ObserveRepriceJob(result string) {
	if RepriceJobsTotal != nil {
		RepriceJobsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveBreakerState sets the breaker state gauge for target.
func ObserveBreakerState(target string, state float64) {
	if BreakerState != nil {
		BreakerState.WithLabelValues(target).Set(state)
	}
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(target, from, to string) {
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(target, from, to).Inc()
	}
}
