package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kubewarden/posture-scanner/internal/constants"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

const (
	checkCounterMetricName         = "posture_checks_total"
	checkCounterMetricDescription  = "How many checks completed, by verdict"
	checkDurationMetricName        = "posture_check_duration_seconds"
	checkDurationMetricDescription = "How long checks ran"
	scanCounterMetricName          = "posture_scans_total"
	scanCounterMetricDescription   = "How many scans finished, by terminal state"
	scansRunningMetricName         = "posture_scans_running"
	scansRunningMetricDescription  = "How many scans are running"
	complianceMetricName           = "posture_scan_compliance_percent"
	complianceMetricDescription    = "Compliance of the latest finished scan of a tenant"

	defaultExportInterval = 30 * time.Second
)

// New starts exporting metrics to the OpenTelemetry collector listening on
// openTelemetryEndpoint and installs the meter provider globally. The
// returned function flushes and stops the exporter.
func New(ctx context.Context, openTelemetryEndpoint string) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(openTelemetryEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot start metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(defaultExportInterval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Recorder turns scan progress events into metrics.
type Recorder struct {
	checks       metric.Int64Counter
	checkLatency metric.Float64Histogram
	scans        metric.Int64Counter
	running      metric.Int64UpDownCounter
	compliance   metric.Float64Gauge
}

// NewRecorder creates the instruments on the given provider. A nil provider
// means the global one.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(constants.AppName)

	checks, err := meter.Int64Counter(checkCounterMetricName, metric.WithDescription(checkCounterMetricDescription))
	if err != nil {
		return nil, fmt.Errorf("cannot create %s instrument: %w", checkCounterMetricName, err)
	}
	checkLatency, err := meter.Float64Histogram(checkDurationMetricName,
		metric.WithDescription(checkDurationMetricDescription),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("cannot create %s instrument: %w", checkDurationMetricName, err)
	}
	scans, err := meter.Int64Counter(scanCounterMetricName, metric.WithDescription(scanCounterMetricDescription))
	if err != nil {
		return nil, fmt.Errorf("cannot create %s instrument: %w", scanCounterMetricName, err)
	}
	running, err := meter.Int64UpDownCounter(scansRunningMetricName, metric.WithDescription(scansRunningMetricDescription))
	if err != nil {
		return nil, fmt.Errorf("cannot create %s instrument: %w", scansRunningMetricName, err)
	}
	compliance, err := meter.Float64Gauge(complianceMetricName,
		metric.WithDescription(complianceMetricDescription),
		metric.WithUnit("%"))
	if err != nil {
		return nil, fmt.Errorf("cannot create %s instrument: %w", complianceMetricName, err)
	}

	return &Recorder{
		checks:       checks,
		checkLatency: checkLatency,
		scans:        scans,
		running:      running,
		compliance:   compliance,
	}, nil
}

func (r *Recorder) Notify(ctx context.Context, event scan.Event) {
	benchmark := attribute.String("benchmark", event.BenchmarkID)

	switch event.Type {
	case scan.EventScanStarted:
		r.running.Add(ctx, 1, metric.WithAttributes(benchmark))
	case scan.EventCheckCompleted:
		attrs := metric.WithAttributes(benchmark, attribute.String("status", string(event.Status)))
		r.checks.Add(ctx, 1, attrs)
		r.checkLatency.Record(ctx, event.Duration.Seconds(), attrs)
	case scan.EventScanFinished:
		r.running.Add(ctx, -1, metric.WithAttributes(benchmark))
		r.scans.Add(ctx, 1, metric.WithAttributes(benchmark, attribute.String("state", string(event.State))))
		if event.State == scan.StateCompleted {
			r.compliance.Record(ctx, event.Summary.Compliance, metric.WithAttributes(
				benchmark,
				attribute.String("tenant", event.TenantID)))
		}
	}
}
