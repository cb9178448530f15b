package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// Prometheus implements payments.Recorder with counter and histogram vectors.
type Prometheus struct {
	charges  *prometheus.CounterVec
	polls    *prometheus.CounterVec
	sessions *prometheus.CounterVec
	attempts *prometheus.HistogramVec
	cancels  *prometheus.CounterVec
}

// NewPrometheus registers the payment metrics on reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charge_requests_total",
			Help:      "Charge initiations by result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Payment status queries by observed status.",
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polling_sessions_total",
			Help:      "Finished polling sessions by terminal state.",
		}, []string{"state"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "polling_session_attempts",
			Help:      "Status queries issued per polling session.",
			Buckets:   prometheus.LinearBuckets(1, 1, payments.DefaultMaxAttempts),
		}, []string{"state"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation requests by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(p.charges, p.polls, p.sessions, p.attempts, p.cancels)
	return p
}

func (p *Prometheus) ChargeSubmitted(result string) {
	p.charges.WithLabelValues(result).Inc()
}

func (p *Prometheus) PollObserved(result string) {
	p.polls.WithLabelValues(result).Inc()
}

func (p *Prometheus) SessionFinished(state payments.State, attempts int) {
	p.sessions.WithLabelValues(string(state)).Inc()
	p.attempts.WithLabelValues(string(state)).Observe(float64(attempts))
}

func (p *Prometheus) CancelAttempted(result string) {
	p.cancels.WithLabelValues(result).Inc()
}
