package trace

import (
	"context"
	"io"
	"os"

	"github.com/hkensame/kdiscovery/pkg/common/hostgen"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

const KTraceName = "kdiscovery"

var kPropagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

func init() {
	otel.SetTextMapPropagator(kPropagator)
}

type Tracer struct {
	Ctx context.Context
	// 记录traceProvider的serviceName
	ServiceName string

	// Sampler 记录基准采样率,派生的span采样率不会低于该百分比,至多百分百采样
	Sampler float64

	ExtraResources []attribute.KeyValue

	// OtlpHeaders是OTLP HTTP传输的headers
	OtlpHeaders map[string]string

	// OtlpHttpPath是OTLP HTTP传输的路径,例如:/v1/traces
	OtlpHttpPath string

	// OtlpHttpSecure 指定 OTLP HTTP传输是否使用安全的HTTPS协议,
	OtlpHttpSecure bool

	// Global 表示是否将生成的TraceProvider加入到全局中
	Global bool

	// 未指定collector地址时span以json形式写入Stdout
	Stdout io.Writer
}

type TracerOption func(*Tracer)

func MustNewTracer(ctx context.Context, opts ...TracerOption) *Tracer {
	t := &Tracer{
		Ctx:          ctx,
		Sampler:      1.0,
		OtlpHeaders:  make(map[string]string),
		OtlpHttpPath: "/v1/traces",
		Global:       true,
		ServiceName:  "unknown_service",
		Stdout:       os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTraceProvider host为otlp collector的地址,为空时使用stdout导出器
func (c *Tracer) NewTraceProvider(host string) (*sdktrace.TracerProvider, error) {
	var exp sdktrace.SpanExporter
	var err error
	if host == "" {
		exp, err = stdouttrace.New(stdouttrace.WithWriter(c.Stdout))
	} else {
		if ok := hostgen.ValidListenHost(host); !ok {
			return nil, errors.Errorf("无效的collector地址%q", host)
		}
		httpOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(host),
			otlptracehttp.WithURLPath(c.OtlpHttpPath),
			otlptracehttp.WithHeaders(c.OtlpHeaders),
		}
		if !c.OtlpHttpSecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(c.Ctx, httpOpts...)
	}
	if err != nil {
		return nil, err
	}

	r, err := resource.New(c.Ctx,
		resource.WithAttributes(semconv.ServiceName(c.ServiceName)),
		resource.WithAttributes(c.ExtraResources...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.Sampler))),
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(exp),
	)
	if c.Global {
		otel.SetTracerProvider(tp)
	}

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Errorf("[otel] tracing内部出错, err= %v", err)
	}))
	return tp, nil
}

// 注意,Extract不会把span信息以context的形式抽取出,而是把span的spanContext信息抽取到ctx中
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return kPropagator.Extract(ctx, carrier)
}

// 注意,Inject不会把span信息以context的形式注入到ctx中,而是把span的spanContext信息注入到carrier中
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	kPropagator.Inject(ctx, carrier)
}

// mdCarrier 让grpc的metadata可以作为propagation的载体
type mdCarrier metadata.MD

var _ propagation.TextMapCarrier = mdCarrier(nil)

func (c mdCarrier) Get(key string) string {
	if vs := metadata.MD(c).Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// ExtractSpanFromIncoming 从服务端收到的metadata中提取上游的spanContext,返回tracer与带有spanContext的ctx
func ExtractSpanFromIncoming(ctx context.Context, opts ...trace.TracerOption) (trace.Tracer, context.Context) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		ctx = Extract(ctx, mdCarrier(md))
	}
	return otel.Tracer(KTraceName, opts...), ctx
}

// NewSpanOutgoingContext 将ctx中的span信息注入到发往下游的metadata中
func NewSpanOutgoingContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	Inject(ctx, mdCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

// WithName 设置tracing的服务名称
func WithName(name string) TracerOption {
	return func(o *Tracer) {
		o.ServiceName = name
	}
}

// WithSampler 设置采样率，值为 [0.0, 1.0] 之间
func WithSampler(sampler float64) TracerOption {
	return func(o *Tracer) {
		if sampler < 0.0 {
			sampler = 0.0
		} else if sampler > 1.0 {
			sampler = 1.0
		}
		o.Sampler = sampler
	}
}

func WithOtlpHeaders(headers map[string]string) TracerOption {
	return func(o *Tracer) {
		o.OtlpHeaders = headers
	}
}

func WithOtlpHttpPath(path string) TracerOption {
	return func(o *Tracer) {
		o.OtlpHttpPath = path
	}
}

func WithOtlpHttpSecure(secure bool) TracerOption {
	return func(o *Tracer) {
		o.OtlpHttpSecure = secure
	}
}

func WithGlobal(global bool) TracerOption {
	return func(o *Tracer) {
		o.Global = global
	}
}

// WithExtraResource 添加额外的字段信息
func WithExtraResource(kv ...attribute.KeyValue) TracerOption {
	return func(o *Tracer) {
		o.ExtraResources = append(o.ExtraResources, kv...)
	}
}

func WithStdout(w io.Writer) TracerOption {
	return func(o *Tracer) {
		o.Stdout = w
	}
}
