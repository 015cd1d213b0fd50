package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadman_sweeps_total",
		Help: "Total number of inactivity sweeps executed.",
	})

	userChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadman_user_checks_total",
		Help: "Total number of per-user inactivity checks, by result.",
	}, []string{"result"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadman_notifications_total",
		Help: "Total number of outbound notifications, by type and delivery status.",
	}, []string{"type", "status"})

	handoverTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadman_handover_transitions_total",
		Help: "Total number of handover state transitions, by target state.",
	}, []string{"to"})
)

func IncSweep() {
	sweepsTotal.Inc()
}

func IncUserCheck(result string) {
	userChecksTotal.WithLabelValues(result).Inc()
}

func IncNotification(notificationType, status string) {
	notificationsTotal.WithLabelValues(notificationType, status).Inc()
}

func IncHandoverTransition(to string) {
	handoverTransitionsTotal.WithLabelValues(to).Inc()
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
