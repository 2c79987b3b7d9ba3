package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// InstallStdoutMetrics replaces the global meter provider with an
// sdk/metric pipeline exporting through the stdout exporter. Intended
// for examples and tests; embedding applications install whatever
// provider suits their collector instead. Instruments registered at
// package init delegate to the new provider automatically.
//
// The returned provider must be shut down to flush pending exports.
func InstallStdoutMetrics(opts ...stdoutmetric.Option) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(opts...)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "document-lifecycle"),
		)),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}
