package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcana_session_events_published_total",
		Help: "Session events broadcast to channel members.",
	}, []string{"kind"})
	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arcana_session_subscribers",
		Help: "Currently subscribed channel members.",
	})
)
