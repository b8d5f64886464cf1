package sinterceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// HealthCheckInterceptor 直接应答注册中心发来的健康检查而不经过后续拦截器,
// serving返回false时(例如服务正在下线)应答NOT_SERVING
func HealthCheckInterceptor(serving func() bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod != healthCheckMethod {
			return handler(ctx, req)
		}
		// 查询具体服务时交给health.Server处理
		if r, ok := req.(*grpc_health_v1.HealthCheckRequest); ok && r.GetService() != "" {
			return handler(ctx, req)
		}
		st := grpc_health_v1.HealthCheckResponse_SERVING
		if serving != nil && !serving() {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
	}
}
