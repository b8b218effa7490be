// Package telemetry exports the run's traces over OTLP/HTTP when a collector
// is configured.
package telemetry

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var logger = log.New(os.Stdout, "TELEMETRY: ", log.LstdFlags|log.Lshortfile)

// Environment variables that turn tracing on. The exporter reads the rest of
// the standard OTEL_EXPORTER_OTLP_* settings itself.
const (
	EnvEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvTracesEndpoint = "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
)

// Telemetry holds the installed provider. The zero value is a disabled setup
// whose Shutdown does nothing.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
}

// Enabled reports whether spans are being exported.
func (t Telemetry) Enabled() bool {
	return t.TracerProvider != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.TracerProvider == nil {
		return nil
	}
	errlist := []error{}
	if err := t.TracerProvider.ForceFlush(ctx); err != nil {
		errlist = append(errlist, err)
	}
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		errlist = append(errlist, err)
	}
	return errors.Join(errlist...)
}

// SetupFromEnv installs a global tracer provider when an OTLP endpoint is set
// in the environment. Without one the spans stay on the no-op provider.
func SetupFromEnv(ctx context.Context, serviceName string) (Telemetry, error) {
	if os.Getenv(EnvEndpoint) == "" && os.Getenv(EnvTracesEndpoint) == "" {
		return Telemetry{}, nil
	}
	return Setup(ctx, serviceName)
}

func Setup(ctx context.Context, serviceName string) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	r, err := newResource(serviceName)
	if err != nil {
		return Telemetry{}, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return Telemetry{}, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	logger.Printf("Exporting traces for %s over OTLP/HTTP", serviceName)

	return Telemetry{TracerProvider: tp}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
}
