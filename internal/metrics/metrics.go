// Package metrics exposes connection and request statistics in the
// Prometheus format.
package metrics

import (
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/muurk/httpcore/internal/message"
)

const namespace = "httpcore"

// Metrics implements conn.Observer with Prometheus collectors.
type Metrics struct {
	connections prometheus.Counter
	active      prometheus.Gauge
	requests    *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections accepted.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently open.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by method and status code.",
		}, []string{"method", "code"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed requests, by parse error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request header to response flushed.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
	reg.MustRegister(m.connections, m.active, m.requests, m.parseErrors, m.duration)
	return m
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) ConnectionClosed() { m.active.Dec() }

func (m *Metrics) RequestServed(method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(normalizeMethod(method), strconv.Itoa(code)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) ParseError(kind string) {
	m.parseErrors.WithLabelValues(kind).Inc()
}

// normalizeMethod keeps label cardinality bounded when clients send
// arbitrary method tokens.
func normalizeMethod(method string) string {
	switch message.Method(method) {
	case message.GET, message.HEAD, message.POST, message.PUT, message.PATCH,
		message.DELETE, message.OPTIONS, message.CONNECT, message.TRACE:
		return method
	default:
		return "OTHER"
	}
}

// Handler serves the text exposition of g. The body is a writer body, so
// it goes out chunked as families are encoded.
func Handler(g prometheus.Gatherer) message.Handler {
	return message.HandlerFunc(func(*message.Request) (*message.Response, error) {
		families, err := g.Gather()
		if err != nil && len(families) == 0 {
			return nil, err
		}
		contentType := string(expfmt.NewFormat(expfmt.TypeTextPlain))
		return message.Stream(200, contentType, func(w io.Writer) error {
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
					return err
				}
			}
			return nil
		}), nil
	})
}
