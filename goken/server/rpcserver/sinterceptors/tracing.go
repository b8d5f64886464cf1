package sinterceptors

import (
	"context"

	ktrace "github.com/hkensame/kdiscovery/pkg/trace"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	gcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryTracingInterceptor 从metadata中取出上游的spanContext并创建server span
func UnaryTracingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	tr, spanCtx := ktrace.ExtractSpanFromIncoming(ctx)
	name, attr := ktrace.ResolveGrpcInfo(info.FullMethod, ktrace.PeerAddrFromCtx(ctx))
	ctx, span := tr.Start(spanCtx, "server-"+name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attr...))
	defer span.End()

	ktrace.MessageReceived.Event(ctx, 1, req)
	resp, err := handler(ctx, req)
	if err != nil {
		st := status.Convert(err)
		span.SetStatus(codes.Error, st.Message())
		span.SetAttributes(ktrace.StatusCodeAttr(st.Code()))
		return nil, err
	}
	ktrace.MessageSent.Event(ctx, 1, resp)
	span.SetAttributes(ktrace.StatusCodeAttr(gcodes.OK))
	return resp, nil
}
