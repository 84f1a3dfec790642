// Package metrics counts login and refresh outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeURLFailed = "url_failed"
	OutcomeBlocked   = "blocked"
	OutcomeTimeout   = "timeout"
	OutcomeAbandoned = "abandoned"
	OutcomeDenied    = "denied"
	OutcomeMalformed = "malformed"
	OutcomeExchange  = "exchange_failed"
	OutcomeStorage   = "storage_failed"
	OutcomeCancelled = "cancelled"
	OutcomeInternal  = "internal"
)

type Recorder interface {
	RecordLogin(outcome string)
	RecordRefresh(ok bool)
}

// NopRecorder discards everything.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) RecordLogin(string) {}
func (NopRecorder) RecordRefresh(bool) {}

// PromRecorder exports ridesession_login_total{outcome} and
// ridesession_refresh_total{result}.
type PromRecorder struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
}

var _ Recorder = (*PromRecorder)(nil)

// NewPromRecorder registers its collectors with reg.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	r := &PromRecorder{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridesession",
			Name:      "login_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridesession",
			Name:      "refresh_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{r.logins, r.refreshes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PromRecorder) RecordLogin(outcome string) {
	r.logins.WithLabelValues(outcome).Inc()
}

func (r *PromRecorder) RecordRefresh(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	r.refreshes.WithLabelValues(result).Inc()
}
