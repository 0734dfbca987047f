package stats

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/ringflow/internal/runtime/event"
)

const (
	metricsNamespace = "ringflow"
	metricsSubsystem = "queue"
)

type promMetrics struct {
	processingSeconds *prometheus.HistogramVec
}

func newPromMetrics() *promMetrics {
	return &promMetrics{
		processingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "processing_seconds",
				Help:      "Time consumers spent on one event",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"protocol", "outcome"},
		),
	}
}

func (m *promMetrics) observe(p event.ProtocolType, outcome string, took time.Duration) {
	m.processingSeconds.WithLabelValues(p.String(), outcome).Observe(took.Seconds())
}

func newDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, metricsSubsystem, name), help, labels, nil)
}

var (
	descRequests          = newDesc("requests_total", "Events handed to consumers", "protocol")
	descCompleted         = newDesc("requests_completed_total", "Events every consumer handled", "protocol")
	descFailed            = newDesc("requests_failed_total", "Events at least one consumer failed on", "protocol")
	descRejected          = newDesc("publish_rejected_total", "Publishes refused because the buffer was full", "protocol")
	descErrors            = newDesc("errors_total", "Consumer failures by category", "category")
	descDiscarded         = newDesc("discarded_total", "Published events dropped by a forced shutdown")
	descActiveConnections = newDesc("active_connections", "Open front-end connections")
	descClients           = newDesc("clients_total", "Distinct clients seen")
	descInFlight          = newDesc("in_flight", "Events currently inside consumer dispatch")
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequests
	ch <- descCompleted
	ch <- descFailed
	ch <- descRejected
	ch <- descErrors
	ch <- descDiscarded
	ch <- descActiveConnections
	ch <- descClients
	ch <- descInFlight
	c.metrics.processingSeconds.Describe(ch)
}

// Collect implements prometheus.Collector by reading the atomic counters.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i := range c.byProtocol {
		pc := &c.byProtocol[i]
		label := event.ProtocolType(i).String()
		ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(pc.started.Load()), label)
		ch <- prometheus.MustNewConstMetric(descCompleted, prometheus.CounterValue, float64(pc.completed.Load()), label)
		ch <- prometheus.MustNewConstMetric(descFailed, prometheus.CounterValue, float64(pc.failed.Load()), label)
		ch <- prometheus.MustNewConstMetric(descRejected, prometheus.CounterValue, float64(pc.rejected.Load()), label)
	}
	for i := ErrorCategoryPanic; i < numErrorCategories; i++ {
		ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(c.byCategory[i].Load()), i.String())
	}
	ch <- prometheus.MustNewConstMetric(descDiscarded, prometheus.CounterValue, float64(c.DiscardedEvents()))
	ch <- prometheus.MustNewConstMetric(descActiveConnections, prometheus.GaugeValue, float64(c.ActiveConnections()))
	ch <- prometheus.MustNewConstMetric(descClients, prometheus.CounterValue, float64(c.TotalClients()))
	ch <- prometheus.MustNewConstMetric(descInFlight, prometheus.GaugeValue, float64(c.InFlight()))
	c.metrics.processingSeconds.Collect(ch)
}

// Register adds the collector to registerer, or the default registerer when
// nil. Registering the same collector twice is not an error.
func (c *Collector) Register(registerer prometheus.Registerer) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}
	return nil
}
