package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered on a registry of their own so servers in the same
// process, as in tests, do not collide.
type metrics struct {
	registry *prometheus.Registry

	// labels: result (ok|error)
	parses *prometheus.CounterVec
	// labels: result (ok|error)
	flattens *prometheus.CounterVec
	// labels: type (human_msg|thought|...)
	appended *prometheus.CounterVec

	// labels: method, path, status_code
	requestDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		parses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replagent_parses_total",
				Help: "Total number of parsed turns by result",
			},
			[]string{"result"},
		),
		flattens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replagent_flattens_total",
				Help: "Total number of flattened sessions by result",
			},
			[]string{"result"},
		),
		appended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replagent_events_appended_total",
				Help: "Total number of events appended to stored sessions by type",
			},
			[]string{"type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replagent_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// observe records the duration of every request by route.
func (m *metrics) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	m.requestDuration.
		WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
		Observe(time.Since(start).Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
