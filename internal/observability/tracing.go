package observability

import (
	"context"
	"net/url"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/config"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	tracerProvider *sdktrace.TracerProvider
)

// Resource attributes describing the OTP service this instance talks to.
const (
	OTPHostKey            = attribute.Key("medrec.otp.host")
	DefaultCountryCodeKey = attribute.Key("medrec.otp.default_country_code")
	ResendCooldownKey     = attribute.Key("medrec.otp.resend_cooldown_seconds")
)

// InitTracer initializes the OpenTelemetry tracer. With tracing disabled the
// global no-op provider stays in place and spans cost nothing.
func InitTracer() {
	if config.AppConfig == nil || !config.AppConfig.TracingEnabled {
		logging.Logger.Info("tracing is disabled")
		return
	}

	ctx := context.Background()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(config.AppConfig.TracingEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		logging.Logger.Error("failed to create OTLP exporter", zap.Error(err))
		return
	}

	res, err := tracerResource(ctx, config.AppConfig)
	if err != nil {
		logging.Logger.Error("failed to create resource", zap.Error(err))
		return
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(time.Second*10),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(tracerSampler(config.AppConfig.TracingSampleRatio)),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logging.Logger.Info("tracer initialized",
		zap.String("endpoint", config.AppConfig.TracingEndpoint),
		zap.Float64("sample_ratio", config.AppConfig.TracingSampleRatio))
}

// tracerSampler keeps the caller's sampling decision when one arrives with the
// request and samples new traces at ratio.
func tracerSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func tracerResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String("app-medrec"),
		semconv.ServiceVersionKey.String("v1.0.0"),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		DefaultCountryCodeKey.String(cfg.DefaultCountryCode),
		ResendCooldownKey.Int64(int64(cfg.OTPResendCooldown / time.Second)),
	}
	if u, err := url.Parse(cfg.OTPBaseURL); err == nil && u.Host != "" {
		attrs = append(attrs, OTPHostKey.String(u.Host))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// ShutdownTracer shuts down the tracer provider
func ShutdownTracer() {
	if tracerProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logging.Logger.Error("failed to shutdown tracer provider", zap.Error(err))
	}
	tracerProvider = nil
}
