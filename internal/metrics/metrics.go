// Package metrics holds the service's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ChatTurns      *prometheus.CounterVec
	ModelTokens    *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	Generations    *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome (ok, canceled, error, rejected).",
		}, []string{"outcome"}),
		ModelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "model",
			Name:      "tokens_total",
			Help:      "Model tokens consumed, by flow and kind.",
		}, []string{"flow", "kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "model",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed calls to external APIs.",
		}, []string{"service"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deathmatter",
			Subsystem: "documents",
			Name:      "generated_total",
			Help:      "Documents generated by source (form, file).",
		}, []string{"source"}),
		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deathmatter",
			Subsystem: "model",
			Name:      "stream_duration_seconds",
			Help:      "Wall time of streamed model responses.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"flow"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChatTurns,
		m.ModelTokens,
		m.ToolCalls,
		m.UpstreamErrors,
		m.RateLimited,
		m.Generations,
		m.StreamDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// AddTokens records prompt and completion token counts for a flow.
func (m *Metrics) AddTokens(flow string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.ModelTokens.WithLabelValues(flow, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.ModelTokens.WithLabelValues(flow, "completion").Add(float64(completion))
	}
}

func (m *Metrics) ChatTurn(outcome string) {
	if m != nil {
		m.ChatTurns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ToolCall(tool, status string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(tool, status).Inc()
	}
}

func (m *Metrics) UpstreamError(service string) {
	if m != nil {
		m.UpstreamErrors.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) Limited(route string) {
	if m != nil {
		m.RateLimited.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) Generated(source string) {
	if m != nil {
		m.Generations.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveStream(flow string, seconds float64) {
	if m != nil {
		m.StreamDuration.WithLabelValues(flow).Observe(seconds)
	}
}
