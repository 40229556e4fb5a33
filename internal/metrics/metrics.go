package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckinTotal counts check-in attempts by verdict code.
var CheckinTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geoattend_checkins_total",
	Help: "Attendance check-in attempts by result code.",
}, []string{"result"})

// AlertsTotal counts security alerts raised by the device registry.
var AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geoattend_security_alerts_total",
	Help: "Security alerts raised, by type and severity.",
}, []string{"type", "severity"})

// SessionsClosedTotal counts session closures by trigger.
var SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geoattend_sessions_closed_total",
	Help: "Sessions closed, by reason (teacher or expiry).",
}, []string{"reason"})
