package command

import (
	"context"
	"time"

	"github.com/hkensame/kdiscovery/pkg/errors"

	"google.golang.org/grpc"
)

type (
	// MethodTimeoutConf 为某个方法单独指定超时时间
	MethodTimeoutConf struct {
		FullMethod string
		Timeout    time.Duration
	}

	methodTimeouts map[string]time.Duration
)

// UnaryCommandInterceptor 让经过该拦截器的每次unary调用都以Command的方式执行,
// 返回的错误是grpc status错误,调用失败时保留远端返回的status
func UnaryCommandInterceptor(isolation *Isolation, timeout time.Duration, methodTimeouts ...MethodTimeoutConf) grpc.UnaryClientInterceptor {
	timeouts := buildMethodTimeouts(methodTimeouts)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		cmd := NewFunc(method, req, reply, func(ctx context.Context, method string, req, reply any) error {
			return invoker(ctx, method, req, reply, cc, opts...)
		}, WithIsolation(isolation), WithTimeout(getTimeoutByMethod(method, timeouts, timeout)))

		_, err := cmd.Execute(ctx)
		if err == nil {
			return nil
		}
		if errors.IsCode(err, errors.CodeInvocationFailure) {
			return errors.Cause(err)
		}
		return errors.StatusError(err)
	}
}

func buildMethodTimeouts(timeouts []MethodTimeoutConf) methodTimeouts {
	mt := make(methodTimeouts, len(timeouts))
	for _, st := range timeouts {
		if st.FullMethod != "" {
			mt[st.FullMethod] = st.Timeout
		}
	}
	return mt
}

func getTimeoutByMethod(method string, timeouts methodTimeouts, defaultTimeout time.Duration) time.Duration {
	if v, ok := timeouts[method]; ok {
		return v
	}
	return defaultTimeout
}
