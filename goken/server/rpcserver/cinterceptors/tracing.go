package cinterceptors

import (
	"context"

	ktrace "github.com/hkensame/kdiscovery/pkg/trace"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	gcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryTracingInterceptor 为每次unary调用创建client span,并把spanContext通过metadata传给下游;
// 放在Command拦截器之前时,Command的执行结果会作为事件记录在该span上
func UnaryTracingInterceptor(ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	name, attr := ktrace.ResolveGrpcInfo(method, cc.Target())
	ctx, span := otel.Tracer(ktrace.KTraceName).Start(ctx, "client-"+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attr...),
	)
	defer span.End()
	ctx = ktrace.NewSpanOutgoingContext(ctx)

	ktrace.MessageSent.Event(ctx, 1, req)
	err := invoker(ctx, method, req, reply, cc, opts...)
	if err != nil {
		st := status.Convert(err)
		span.SetStatus(codes.Error, st.Message())
		span.SetAttributes(ktrace.StatusCodeAttr(st.Code()))
		return err
	}
	ktrace.MessageReceived.Event(ctx, 1, reply)
	span.SetAttributes(ktrace.StatusCodeAttr(gcodes.OK))
	span.SetStatus(codes.Ok, "")
	return nil
}
