package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_sessions_started_total",
		Help: "Reading sessions created.",
	})
	sessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_sessions_completed_total",
		Help: "Reading sessions that reached the complete state.",
	})
	sessionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_sessions_abandoned_total",
		Help: "Reading sessions abandoned before completion.",
	})
	slotsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_slots_opened_total",
		Help: "Card slots opened across all sessions.",
	})
)
