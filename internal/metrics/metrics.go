package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "passage"

// Metrics holds the collectors updated by the services. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	verifications       *prometheus.CounterVec
	logins              *prometheus.CounterVec
	revocations         *prometheus.CounterVec
	sweepRemoved        prometheus.Counter
	sweepFailures       prometheus.Counter
	challengesIssued    *prometheus.CounterVec
	challengesConfirmed *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Credential verifications by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Authentication attempts by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Tokens added to the revocation registry by reason.",
		}, []string{"reason"}),
		sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Revocation entries purged by the sweeper.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweeper runs that failed.",
		}),
		challengesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_issued_total",
			Help:      "One-time codes issued by purpose.",
		}, []string{"purpose"}),
		challengesConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_confirmed_total",
			Help:      "One-time code confirmations by purpose and result.",
		}, []string{"purpose", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.verifications, m.logins, m.revocations,
		m.sweepRemoved, m.sweepFailures,
		m.challengesIssued, m.challengesConfirmed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Verification(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Revocation(reason string) {
	if m != nil {
		m.revocations.WithLabelValues(reason).Inc()
	}
}

// Sweep records one sweeper run
func (m *Metrics) Sweep(removed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweepRemoved.Add(float64(removed))
}

func (m *Metrics) ChallengeIssued(purpose string) {
	if m != nil {
		m.challengesIssued.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) ChallengeConfirmed(purpose, result string) {
	if m != nil {
		m.challengesConfirmed.WithLabelValues(purpose, result).Inc()
	}
}
