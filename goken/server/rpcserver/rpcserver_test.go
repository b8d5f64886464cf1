package rpcserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/registry/ways/memory"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver/command"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, reg *memory.Registry, name string) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := MustNewServer(ctx, WithRegistor(reg), WithServiceName(name), WithVersion("v1"))
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	require.Eventually(t, func() bool {
		records, _ := reg.Discover(context.Background(), registry.NewDescriptor("grpc", name, 0, nil))
		return len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return s, cancel, done
}

func TestClientCallsThroughDiscovery(t *testing.T) {
	reg := memory.New()
	s, cancel, done := startServer(t, reg, "greeter")

	records, err := reg.Discover(context.Background(), registry.NewDescriptor("grpc", "greeter", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, s.Host, records[0].HostPort())
	assert.Equal(t, "v1", records[0].Metadata["version"])
	assert.True(t, strings.HasPrefix(records[0].ID, "greeter-"))
	_, err = uuid.Parse(strings.TrimPrefix(records[0].ID, "greeter-"))
	assert.NoError(t, err)

	c := MustNewClient(context.Background(), "discovery://memory/greeter",
		WithDiscover(reg, nil),
		WithCommand(time.Second, command.MustNewIsolation()),
	)
	defer c.Reset()
	conn, err := c.Dial()
	require.NoError(t, err)

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve没有在ctx结束后退出")
	}
	records, _ = reg.Discover(context.Background(), registry.NewDescriptor("grpc", "greeter", 0, nil))
	assert.Empty(t, records)
	assert.NoError(t, s.Deregister(context.Background()))
}

func TestClientCommandAndTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	reg := memory.New()
	s, cancel, done := startServer(t, reg, "tracer")
	defer func() {
		cancel()
		<-done
	}()

	c := MustNewClient(context.Background(), s.Host, WithEnableTracing(true))
	defer c.Reset()

	cmd, err := c.Command("/grpc.health.v1.Health/Check", &grpc_health_v1.HealthCheckRequest{}, &grpc_health_v1.HealthCheckResponse{})
	require.NoError(t, err)
	out, err := cmd.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, out.(*grpc_health_v1.HealthCheckResponse).Status)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "client-grpc.health.v1.Health/Check" {
			continue
		}
		for _, ev := range span.Events() {
			if ev.Name == "command" {
				found = true
			}
		}
	}
	assert.True(t, found, "client span上应记录了command事件")
}
