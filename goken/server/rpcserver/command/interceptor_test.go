package command

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// slowHealth 在返回之前等待delay
type slowHealth struct {
	*health.Server
	delay time.Duration
}

func (s *slowHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Server.Check(ctx, req)
}

func dialHealth(t *testing.T, delay time.Duration, opts ...grpc.DialOption) grpc_health_v1.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &slowHealth{Server: health.NewServer(), delay: delay})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	opts = append(opts,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func TestUnaryCommandInterceptor(t *testing.T) {
	iso := MustNewIsolation()
	cli := dialHealth(t, 0, grpc.WithUnaryInterceptor(UnaryCommandInterceptor(iso, time.Second)))

	resp, err := cli.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	// 远端返回的status原样交给调用方
	_, err = cli.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUnaryCommandInterceptorTimeout(t *testing.T) {
	iso := MustNewIsolation()
	cli := dialHealth(t, time.Second, grpc.WithUnaryInterceptor(UnaryCommandInterceptor(iso, time.Second,
		MethodTimeoutConf{FullMethod: "/grpc.health.v1.Health/Check", Timeout: 50 * time.Millisecond})))

	start := time.Now()
	_, err := cli.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
