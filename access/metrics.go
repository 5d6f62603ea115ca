package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	accessGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcana_content_access_granted_total",
		Help: "Guarded content reads that passed the gate.",
	}, []string{"kind"})
	accessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcana_content_access_denied_total",
		Help: "Guarded content reads rejected by the gate.",
	}, []string{"kind"})
)
