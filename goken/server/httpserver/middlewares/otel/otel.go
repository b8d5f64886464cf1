package otelkgin

import (
	"context"
	"fmt"

	ktrace "github.com/hkensame/kdiscovery/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type GinTracer struct {
	Ctx context.Context
	// SpanGinCtxKey是gin.Context中找到Span的键
	SpanGinCtxKey string
	TracerName    string
}

type GinTracerOption func(*GinTracer)

func MustNewGinTracer(ctx context.Context, opts ...GinTracerOption) *GinTracer {
	gt := &GinTracer{
		Ctx:           ctx,
		SpanGinCtxKey: "gin-kdiscovery",
		TracerName:    ktrace.KTraceName,
	}

	for _, opt := range opts {
		opt(gt)
	}
	return gt
}

func (g *GinTracer) addDefaultAttributes(ctx *gin.Context, span trace.Span) {
	span.SetAttributes(
		semconv.HTTPMethodKey.String(ctx.Request.Method),
		semconv.HTTPURLKey.String(ctx.Request.URL.String()),
		semconv.HTTPStatusCodeKey.Int(ctx.Writer.Status()),
		attribute.String("http.host", ctx.Request.Host),
	)
}

// TraceHandler 返回一个Handler,先从请求头中提取父span,再启动一个新的Span放入gin.Context,
// 它会测量所有后续处理程序的执行时间
func (g *GinTracer) TraceHandler(opts ...trace.SpanStartOption) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		parent := ktrace.Extract(ctx.Request.Context(), propagation.HeaderCarrier(ctx.Request.Header))
		c, span := otel.Tracer(g.TracerName).Start(parent, fmt.Sprintf("%s-%s", ctx.Request.Method, ctx.FullPath()), opts...)
		ctx.Set(g.SpanGinCtxKey, c)
		ctx.Request = ctx.Request.WithContext(c)
		defer func() {
			g.addDefaultAttributes(ctx, span)
			span.End()
		}()
		ctx.Next()
	}
}

// 从gin.Context中找到TraceHandler放入的span,找不到时返回一个noop span
func (g *GinTracer) SpanFromGinContext(ctx *gin.Context) trace.Span {
	spanContextAny, _ := ctx.Get(g.SpanGinCtxKey)
	if spanContext, ok := spanContextAny.(context.Context); ok && spanContext != nil {
		if trace.SpanContextFromContext(spanContext).IsValid() {
			return trace.SpanFromContext(spanContext)
		}
	}
	return noop.Span{}
}

func WithSpanContextKey(spanContextKey string) GinTracerOption {
	return func(g *GinTracer) {
		g.SpanGinCtxKey = spanContextKey
	}
}

func WithTracerName(tracerName string) GinTracerOption {
	return func(g *GinTracer) {
		g.TracerName = tracerName
	}
}
