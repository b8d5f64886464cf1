package discover

import (
	"context"
	"net"
	"net/url"
	"testing"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/registry/ways/memory"
	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/status"
)

func TestBuilderMetadata(t *testing.T) {
	b := MustNewBuilder(nil)
	assert.True(t, b.IsAvailable())
	assert.Equal(t, 5, b.Priority())
	assert.Equal(t, "", b.DefaultScheme())
	assert.Equal(t, DefaultScheme, b.Scheme())
	assert.Equal(t, "kd", MustNewBuilder(nil, WithScheme("kd")).Scheme())
	assert.Panics(t, func() { MustNewBuilder(nil, WithScheme("")) })
}

func TestNewResolverMergesParams(t *testing.T) {
	var gotTarget *url.URL
	b := MustNewBuilder(
		registry.NewDescriptor("grpc", "svc-a", 0, map[string]string{"group": "dev", "tag": "blue"}),
		WithRegistryFactory(func(target *url.URL) (registry.Registry, error) {
			gotTarget = target
			return memory.New(), nil
		}),
	)
	target := &url.URL{Scheme: DefaultScheme, Host: "127.0.0.1:8500"}
	r, err := b.NewResolver(target, map[string]string{"tag": "green", "dc": "dc1"})
	require.NoError(t, err)
	defer r.Shutdown()

	assert.Equal(t, target, gotTarget)
	d := r.Descriptor()
	assert.Equal(t, "svc-a", d.ServiceName())
	assert.Equal(t, "dev", d.Param("group"))
	assert.Equal(t, "green", d.Param("tag"))
	assert.Equal(t, "dc1", d.Param("dc"))
	assert.Equal(t, "grpc", r.ServiceAuthority())

	// Builder持有的描述不受影响
	r2, err := b.NewResolver(target, nil)
	require.NoError(t, err)
	defer r2.Shutdown()
	assert.Equal(t, "blue", r2.Descriptor().Param("tag"))
	assert.Empty(t, r2.Descriptor().Param("dc"))
}

func TestNewResolverRegistryFailure(t *testing.T) {
	b := MustNewBuilder(nil, WithRegistryFactory(func(*url.URL) (registry.Registry, error) {
		return nil, errors.WithCode(errors.CodeRegistryUnavailable, "连不上")
	}))
	_, err := b.NewResolver(&url.URL{Scheme: DefaultScheme, Path: "/svc-a"}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeRegistryUnavailable))
}

func TestBuildUsesTargetPathAsService(t *testing.T) {
	reg := memory.New()
	reg.Put("user", &registry.Record{Name: "user", Host: "10.0.0.1", Port: 9000})
	b := MustNewBuilder(nil, WithRegistry(reg))

	u, err := url.Parse("discovery://127.0.0.1:8500/user?registry=memory&group=dev")
	require.NoError(t, err)
	cc := newFakeCC()
	rr, err := b.Build(resolver.Target{URL: *u}, cc, resolver.BuildOptions{})
	require.NoError(t, err)
	defer rr.Close()

	s := cc.nextState(t)
	assert.Equal(t, []string{"10.0.0.1:9000"}, addrsOf(s))
	r := rr.(*Resolver)
	assert.Equal(t, "user", r.Descriptor().ServiceName())
	assert.Equal(t, "dev", r.Descriptor().Param("group"))
}

func TestBuildKeepsConnParamsOutOfDescriptor(t *testing.T) {
	var gotTarget *url.URL
	b := MustNewBuilder(nil, WithRegistryFactory(func(target *url.URL) (registry.Registry, error) {
		gotTarget = target
		return memory.New(), nil
	}))

	u, err := url.Parse("discovery://127.0.0.1:8500/svc-a?registry=consul&token=S3CRET&dc=dc1")
	require.NoError(t, err)
	cc := newFakeCC()
	rr, err := b.Build(resolver.Target{URL: *u}, cc, resolver.BuildOptions{})
	require.NoError(t, err)
	defer rr.Close()

	// Factory依旧能拿到完整的target
	assert.Equal(t, "S3CRET", gotTarget.Query().Get(registry.TokenParam))

	r := rr.(*Resolver)
	d := r.Descriptor()
	assert.Equal(t, "dc1", d.Param("dc"))
	assert.Empty(t, d.Param(registry.TokenParam))
	assert.Empty(t, d.Param(registry.KindParam))
	assert.NotContains(t, d.String(), "S3CRET")

	require.NoError(t, r.Refresh(context.Background()))
	e := cc.nextErr(t)
	assert.Equal(t, codes.NotFound, status.Code(e))
	assert.NotContains(t, e.Error(), "S3CRET")
}

func TestBuildWithoutServiceName(t *testing.T) {
	b := MustNewBuilder(nil, WithRegistry(memory.New()))
	_, err := b.Build(resolver.Target{URL: url.URL{Scheme: DefaultScheme, Host: "127.0.0.1:8500"}}, newFakeCC(), resolver.BuildOptions{})
	assert.True(t, errors.IsCode(err, errors.CodeIllegalUsage))
}

type panicHosts struct{ t *testing.T }

func (h panicHosts) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	h.t.Fatal("ip字面量不应触发域名解析")
	return nil, nil
}

func TestResolveRecordLiteralIP(t *testing.T) {
	for host, want := range map[string]string{
		"10.0.0.1":        "10.0.0.1:9000",
		"::1":             "[::1]:9000",
		"::ffff:10.0.0.2": "10.0.0.2:9000",
	} {
		addrs, err := ResolveRecord(context.Background(), panicHosts{t}, &registry.Record{Host: host, Port: 9000})
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, want, addrs[0].Addr)
	}
}

func TestResolveRecordHostname(t *testing.T) {
	hosts := fakeHosts{"svc-a.local": {"10.0.0.1", "10.0.0.2", "10.0.0.3"}}
	addrs, err := ResolveRecord(context.Background(), hosts, &registry.Record{Host: "svc-a.local", Port: 7000})
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	for _, a := range addrs {
		_, port, err := net.SplitHostPort(a.Addr)
		require.NoError(t, err)
		assert.Equal(t, "7000", port)
	}
}

func TestResolveRecordFailures(t *testing.T) {
	_, err := ResolveRecord(context.Background(), fakeHosts{}, &registry.Record{Host: "nowhere.local", Port: 9000})
	assert.True(t, errors.IsCode(err, errors.CodeResolutionUnavailable))

	_, err = ResolveRecord(context.Background(), fakeHosts{}, &registry.Record{Host: "10.0.0.1", Port: 0})
	assert.True(t, errors.IsCode(err, errors.CodeResolutionUnavailable))

	_, err = ResolveRecord(context.Background(), fakeHosts{"empty.local": {}}, &registry.Record{Host: "empty.local", Port: 1})
	assert.True(t, errors.IsCode(err, errors.CodeResolutionUnavailable))
}
