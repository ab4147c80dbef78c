package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the control loop
type MetricsCollector struct {
	registry *prometheus.Registry

	// Oracle metrics
	oracleRequests     metric.Int64Counter
	oracleTokensInput  metric.Int64Counter
	oracleTokensOutput metric.Int64Counter
	oracleLatency      metric.Float64Histogram
	oracleCost         metric.Float64Counter

	// Tool metrics
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram
	toolRetries    metric.Int64Counter

	// Run metrics
	runsActive       metric.Int64UpDownCounter
	runsFinished     metric.Int64Counter
	escalations      metric.Int64Counter
	schemaViolations metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector. PrometheusPort, when
// set, serves /metrics on its own listener for commands that run no API
// server.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector backed by its own
// Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("republic")

	collector := &MetricsCollector{registry: registry}
	b := &instrumentBuilder{meter: meter}

	collector.oracleRequests = b.counter("republic.oracle.requests.total", "Total number of oracle calls", "{request}")
	collector.oracleTokensInput = b.counter("republic.oracle.tokens.input", "Input tokens sent to the oracle", "{token}")
	collector.oracleTokensOutput = b.counter("republic.oracle.tokens.output", "Output tokens returned by the oracle", "{token}")
	collector.oracleLatency = b.histogram("republic.oracle.latency", "Oracle call latency in seconds")
	collector.oracleCost = b.floatCounter("republic.cost.total", "Accrued oracle cost", "USD")
	collector.toolExecutions = b.counter("republic.tool.executions.total", "Total number of tool executions", "{execution}")
	collector.toolDuration = b.histogram("republic.tool.duration", "Tool execution duration in seconds")
	collector.toolRetries = b.counter("republic.tool.retries.total", "Tool attempts that were retried", "{retry}")
	collector.runsActive = b.upDown("republic.runs.active", "Number of runs in progress", "{run}")
	collector.runsFinished = b.counter("republic.runs.finished.total", "Runs by terminal state", "{run}")
	collector.escalations = b.counter("republic.escalations.total", "Runs escalated to a human, by reason", "{run}")
	collector.schemaViolations = b.counter("republic.schema.violations.total", "Tool calls rejected by the schema gate", "{call}")
	if b.err != nil {
		return nil, b.err
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) floatCounter(name, desc, unit string) metric.Float64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Float64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(name, desc string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) upDown(name, desc, unit string) metric.Int64UpDownCounter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return c
}

// Handler serves the collector's registry in Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartPrometheusServer binds :port and serves /metrics until Shutdown.
// A port that cannot be bound is reported here rather than from the
// serving goroutine.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.prometheusServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = m.prometheusServer.Serve(ln) }()
	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m != nil && m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordOracleCall records a plan or verify call
func (m *MetricsCollector) RecordOracleCall(ctx context.Context, kind, status string, latency time.Duration, inputTokens, outputTokens int, cost float64) {
	if m == nil || m.oracleRequests == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	kindAttr := metric.WithAttributes(attribute.String("kind", kind))

	m.oracleRequests.Add(ctx, 1, attrs)
	m.oracleTokensInput.Add(ctx, int64(inputTokens), kindAttr)
	m.oracleTokensOutput.Add(ctx, int64(outputTokens), kindAttr)
	m.oracleLatency.Record(ctx, latency.Seconds(), attrs)
	if cost > 0 {
		m.oracleCost.Add(ctx, cost, kindAttr)
	}
}

// RecordToolExecution records a tool execution
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, toolName string, status string, duration time.Duration) {
	if m == nil || m.toolExecutions == nil {
		return
	}

	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordToolRetry records one retried tool attempt
func (m *MetricsCollector) RecordToolRetry(ctx context.Context, toolName, code string) {
	if m == nil || m.toolRetries == nil {
		return
	}
	m.toolRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", toolName),
		attribute.String("code", code),
	))
}

// RecordSchemaViolation records a rejected tool call
func (m *MetricsCollector) RecordSchemaViolation(ctx context.Context, toolName string) {
	if m == nil || m.schemaViolations == nil {
		return
	}
	m.schemaViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RunStarted increments the active runs gauge
func (m *MetricsCollector) RunStarted(ctx context.Context) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, 1)
}

// RunFinished decrements the active runs gauge and records the outcome.
// reason is the escalation reason and is ignored for other states.
func (m *MetricsCollector) RunFinished(ctx context.Context, agentID, state, reason string) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, -1)
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("state", state),
	))
	if reason != "" {
		m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
