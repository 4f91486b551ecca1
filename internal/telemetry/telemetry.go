// Package telemetry はOpenTelemetryのトレーサープロバイダーを設定する。
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options はトレース送信の設定。
type Options struct {
	// ServiceName はリソース属性に設定するサービス名。
	ServiceName string
	// Endpoint はOTLP/gRPCの送信先。空の場合はトレースを無効にする。
	Endpoint string
	// Insecure はTLSを使わずに送信する場合にtrue。
	Insecure bool
}

// Setup はトレーサープロバイダーをグローバルに登録し、終了処理の関数を返す。
// 送信先が未設定、またはエクスポーターの生成に失敗した場合は何もしない関数を返す。
func Setup(ctx context.Context, opts Options) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return noop
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		log.Printf("OTLPエクスポーターの生成に失敗: %v", err)
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.ServiceName)))
	if err != nil {
		log.Printf("OTelリソースの生成に失敗: %v", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown
}
