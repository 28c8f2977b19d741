package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "addinauth", Name: "sessions_created_total", Help: "Number of sessions established via any login flow."},
	)
	TokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "addinauth", Name: "token_refresh_total", Help: "Number of refresh-token exchanges by outcome."},
		[]string{"outcome"},
	)
	AuthRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "addinauth", Name: "auth_rejected_total", Help: "Number of requests rejected by the auth gate, by reason."},
		[]string{"reason"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "addinauth", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "addinauth", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(SessionsCreated)
	reg.MustRegister(TokenRefresh)
	reg.MustRegister(AuthRejected)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
