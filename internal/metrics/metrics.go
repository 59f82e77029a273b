// Package metrics exposes Prometheus collectors for tool calls and model
// backends.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const namespace = "kbyg"

type Metrics struct {
	reg *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	generateCalls    *prometheus.CounterVec
	generateDuration *prometheus.HistogramVec
	tokensUsed       *prometheus.CounterVec
	wsClients        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls by tool and outcome",
	}, []string{"tool", "result"})
	m.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Time spent in tool handlers",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tool"})
	m.generateCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generate_requests_total",
		Help:      "Generation requests by backend and outcome",
	}, []string{"backend", "result"})
	m.generateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generate_duration_seconds",
		Help:      "Latency of generation backends",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend"})
	m.tokensUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generate_tokens_total",
		Help:      "Tokens reported by generation backends",
	}, []string{"backend"})
	m.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected websocket clients",
	})

	m.reg.MustRegister(
		m.toolCalls, m.toolDuration,
		m.generateCalls, m.generateDuration, m.tokensUsed,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(kind tools.ErrorKind) string {
	if kind == tools.KindNone {
		return "ok"
	}
	return string(kind)
}

// ObserveToolCall implements tools.Observer.
func (m *Metrics) ObserveToolCall(tool string, kind tools.ErrorKind, elapsed time.Duration) {
	if kind == tools.KindUnknownTool {
		tool = "unknown"
	}
	m.toolCalls.WithLabelValues(tool, result(kind)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) ClientConnected()    { m.wsClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.wsClients.Dec() }

// InstrumentGenerator wraps g so each call is counted and timed.
func (m *Metrics) InstrumentGenerator(backend string, g upstream.Generator) upstream.Generator {
	return upstream.GeneratorFunc(func(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
		start := time.Now()
		resp, err := g.Generate(ctx, req)
		m.generateDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
		m.generateCalls.WithLabelValues(backend, result(tools.Classify(err))).Inc()
		if err == nil && resp != nil && resp.TokensUsed > 0 {
			m.tokensUsed.WithLabelValues(backend).Add(float64(resp.TokensUsed))
		}
		return resp, err
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
