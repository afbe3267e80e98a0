// Package metrics exposes Prometheus collectors for scrapes and deliveries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "bookaware"

type Metrics struct {
	registry *prometheus.Registry

	scrapes     *prometheus.CounterVec
	lastSuccess prometheus.Gauge
	loans       prometheus.Gauge
	dueSoon     prometheus.Gauge
	published   *prometheus.CounterVec
	deferred    prometheus.Counter
	lost        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrapes_total",
			Help:      "Scrape attempts by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful scrape.",
		}),
		loans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loans",
			Help:      "Loans found by the last successful scrape.",
		}),
		dueSoon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "books_due_soon",
			Help:      "Loans due within the due-soon window.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_published_total",
			Help:      "Messages delivered to the broker by topic.",
		}, []string{"topic"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_deferred_total",
			Help:      "Messages put back into the buffer after a failed publish.",
		}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_lost_total",
			Help:      "Messages dropped because they could not be buffered.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scrapes, m.lastSuccess, m.loans, m.dueSoon,
		m.published, m.deferred, m.lost,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WatchPending exports fn as the buffered message gauge.
func (m *Metrics) WatchPending(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_pending",
		Help:      "Messages waiting for delivery.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) ScrapeSucceeded(at time.Time, loans, dueSoon int) {
	m.scrapes.WithLabelValues("success").Inc()
	m.lastSuccess.Set(float64(at.Unix()))
	m.loans.Set(float64(loans))
	m.dueSoon.Set(float64(dueSoon))
}

func (m *Metrics) ScrapeFailed() {
	m.scrapes.WithLabelValues("error").Inc()
}

func (m *Metrics) Published(topic string) { m.published.WithLabelValues(topic).Inc() }
func (m *Metrics) Deferred(n int)         { m.deferred.Add(float64(n)) }
func (m *Metrics) Lost(n int)             { m.lost.Add(float64(n)) }
