package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type appMetrics struct {
	registry *prometheus.Registry

	reportsSubmitted  prometheus.Counter
	reportsRejected   *prometheus.CounterVec
	moderationActions *prometheus.CounterVec
	geocodeLookups    *prometheus.CounterVec
}

// newAppMetrics registers on its own registry so tests can build many Apps.
func newAppMetrics(liveWorkspaces func() float64) *appMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &appMetrics{
		registry: registry,
		reportsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "safecity",
			Name:      "reports_submitted_total",
			Help:      "Reports accepted for moderation.",
		}),
		reportsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safecity",
			Name:      "reports_rejected_total",
			Help:      "Report submissions refused, by error code.",
		}, []string{"code"}),
		moderationActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safecity",
			Name:      "moderation_actions_total",
			Help:      "Admin moderation actions that changed a report.",
		}, []string{"action"}),
		geocodeLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safecity",
			Name:      "geocode_lookups_total",
			Help:      "Reverse geocode lookups by outcome.",
		}, []string{"result"}),
	}
	if liveWorkspaces != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "safecity",
			Name:      "live_workspaces",
			Help:      "Browser sessions currently held in memory.",
		}, liveWorkspaces)
	}
	return m
}

func (m *appMetrics) observeSubmitted() {
	if m == nil {
		return
	}
	m.reportsSubmitted.Inc()
}

func (m *appMetrics) observeRejected(code string) {
	if m == nil {
		return
	}
	m.reportsRejected.WithLabelValues(code).Inc()
}

func (m *appMetrics) observeModeration(action string) {
	if m == nil {
		return
	}
	m.moderationActions.WithLabelValues(action).Inc()
}

func (m *appMetrics) observeGeocode(result string) {
	if m == nil {
		return
	}
	m.geocodeLookups.WithLabelValues(result).Inc()
}

func (m *appMetrics) handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
