package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/playperu/valentines/internal/session"
)

type Metrics struct {
	mutations       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	journalFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "valentines_session_mutations_total",
			Help: "Session operations by kind and outcome",
		}, []string{"op", "outcome"}), // outcome=ok|completed|rejected|not_found|error
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "valentines_session_transitions_total",
			Help: "Lifecycle transitions by game type, target status and reason",
		}, []string{"game_type", "to", "reason"}),
		journalFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "valentines_journal_write_failures_total",
			Help: "Snapshots a journal writer gave up on",
		}, []string{"writer"}),
	}
}

// TrackSessions exports the live session count.
func (m *Metrics) TrackSessions(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "valentines_sessions",
		Help: "Sessions currently held in memory",
	}, func() float64 { return float64(count()) })
}

func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrAlreadyCompleted):
		return "completed"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrPlayerNotFound):
		return "not_found"
	case errors.Is(err, session.ErrInvalidDelta),
		errors.Is(err, session.ErrInvalidIdentity),
		errors.Is(err, session.ErrInvalidID),
		errors.Is(err, session.ErrInvalidPayload),
		errors.Is(err, session.ErrTurnViolation):
		return "rejected"
	}
	return "error"
}

func (m *Metrics) ObserveMutation(op string, err error) {
	m.mutations.WithLabelValues(op, Outcome(err)).Inc()
}

// ObserveTransition is a session.Store transition hook.
func (m *Metrics) ObserveTransition(t session.Transition) {
	m.transitions.WithLabelValues(t.GameType, string(t.To), string(t.Reason)).Inc()
}

func (m *Metrics) JournalFailed(writer string) {
	m.journalFailures.WithLabelValues(writer).Inc()
}
