package discover

import (
	"context"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/registry/ways/memory"
	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/status"
)

// fakeCC 只实现了resolver用到的两个方法
type fakeCC struct {
	resolver.ClientConn

	states chan resolver.State
	errs   chan error
}

func newFakeCC() *fakeCC {
	return &fakeCC{
		states: make(chan resolver.State, 64),
		errs:   make(chan error, 64),
	}
}

func (c *fakeCC) UpdateState(s resolver.State) error {
	c.states <- s
	return nil
}

func (c *fakeCC) ReportError(err error) {
	c.errs <- err
}

func (c *fakeCC) nextState(t *testing.T) resolver.State {
	t.Helper()
	select {
	case s := <-c.states:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到UpdateState")
	}
	return resolver.State{}
}

func (c *fakeCC) nextErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到ReportError")
	}
	return nil
}

func (c *fakeCC) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.states:
		t.Fatalf("意外的UpdateState: %v", s)
	case err := <-c.errs:
		t.Fatalf("意外的ReportError: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

// countingRegistry 记录Unsubscribe的调用
type countingRegistry struct {
	*memory.Registry

	mu          sync.Mutex
	unsubs      []registry.NotifyListener
	discoverErr error
}

func (c *countingRegistry) Discover(ctx context.Context, d *registry.Descriptor) ([]*registry.Record, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return c.Registry.Discover(ctx, d)
}

func (c *countingRegistry) Unsubscribe(d *registry.Descriptor, l registry.NotifyListener) error {
	c.mu.Lock()
	c.unsubs = append(c.unsubs, l)
	c.mu.Unlock()
	return c.Registry.Unsubscribe(d, l)
}

func (c *countingRegistry) unsubscribed() []registry.NotifyListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]registry.NotifyListener(nil), c.unsubs...)
}

// flakySubscribeRegistry 前failures次Subscribe返回错误
type flakySubscribeRegistry struct {
	*memory.Registry

	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakySubscribeRegistry) Subscribe(d *registry.Descriptor, l registry.NotifyListener) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.WithCode(errors.CodeRegistryUnavailable, "注册中心暂时不可用")
	}
	return f.Registry.Subscribe(d, l)
}

type fakeHosts map[string][]string

func (h fakeHosts) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := h[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func rec(host string, port int) *registry.Record {
	return &registry.Record{ID: host, Name: "svc-a", Host: host, Port: port}
}

func newTestResolver(t *testing.T, hosts fakeHosts) (*Resolver, *countingRegistry) {
	t.Helper()
	reg := &countingRegistry{Registry: memory.New()}
	b := MustNewBuilder(registry.NewDescriptor("grpc", "svc-a", 0, nil),
		WithRegistry(reg),
		WithHostResolver(hosts),
		WithResolveTimeout(time.Second),
	)
	r, err := b.NewResolver(&url.URL{Scheme: DefaultScheme, Host: "registry"}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)
	return r, reg
}

func addrsOf(s resolver.State) []string {
	out := make([]string, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		out = append(out, a.Addr)
	}
	return out
}

func TestStartTwiceIsIllegal(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	require.NoError(t, r.Start(newFakeCC()))
	err := r.Start(newFakeCC())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeIllegalUsage))
}

func TestStartAfterShutdownIsIllegal(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	r.Shutdown()
	assert.True(t, errors.IsCode(r.Start(newFakeCC()), errors.CodeIllegalUsage))
}

func TestRefreshBeforeStartIsIllegal(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeIllegalUsage))
}

func TestMembershipScenario(t *testing.T) {
	r, reg := newTestResolver(t, nil)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	reg.Put("svc-a", rec("10.0.0.1", 9000), rec("10.0.0.2", 9000))
	s := cc.nextState(t)
	assert.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, addrsOf(s))
	require.Len(t, s.Endpoints, 2)

	reg.Put("svc-a")
	err := cc.nextErr(t)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "svc-a")
	cc.assertQuiet(t)

	snap, ok := r.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, addrsOf(snap))

	r.Shutdown()
	r.Shutdown()
	unsubs := reg.unsubscribed()
	require.Len(t, unsubs, 1)
	assert.Same(t, r.bridge, unsubs[0])
}

func TestEmptyBeforeFirstSnapshot(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	r.bridge.Notify(nil)
	assert.Equal(t, codes.NotFound, status.Code(cc.nextErr(t)))
	_, ok := r.Snapshot()
	assert.False(t, ok)
}

func TestNotificationAfterShutdownIsDropped(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))
	r.Shutdown()

	r.bridge.Notify([]*registry.Record{rec("10.0.0.1", 9000)})
	cc.assertQuiet(t)
	_, ok := r.Snapshot()
	assert.False(t, ok)
}

func TestRefreshPublishesSynchronously(t *testing.T) {
	r, reg := newTestResolver(t, nil)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))
	reg.Put("svc-a", rec("10.0.0.3", 9000))
	// 先消费掉订阅的异步推送
	cc.nextState(t)

	require.NoError(t, r.Refresh(context.Background()))
	select {
	case s := <-cc.states:
		assert.Equal(t, []string{"10.0.0.3:9000"}, addrsOf(s))
	default:
		t.Fatal("Refresh返回前应已发布状态")
	}
}

func TestRefreshDiscoverFailure(t *testing.T) {
	r, reg := newTestResolver(t, nil)
	reg.discoverErr = errors.WithCode(errors.CodeRegistryUnavailable, "consul不可用")
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(cc.nextErr(t)))
}

func TestHostnameExpansionAndPartialFailure(t *testing.T) {
	hosts := fakeHosts{"svc-a.local": {"10.0.1.1", "10.0.1.2", "::1"}}
	r, _ := newTestResolver(t, hosts)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	r.bridge.Notify([]*registry.Record{
		rec("svc-a.local", 9000),
		rec("missing.local", 9000),
		rec("10.0.0.9", 9001),
	})

	err := cc.nextErr(t)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "missing.local")

	s := cc.nextState(t)
	assert.Equal(t, []string{"10.0.1.1:9000", "10.0.1.2:9000", "[::1]:9000", "10.0.0.9:9001"}, addrsOf(s))
	require.Len(t, s.Endpoints, 2)
	assert.Len(t, s.Endpoints[0].Addresses, 3)
}

func TestAllRecordsFailKeepsSnapshot(t *testing.T) {
	r, _ := newTestResolver(t, fakeHosts{})
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	r.bridge.Notify([]*registry.Record{rec("10.0.0.1", 9000)})
	cc.nextState(t)

	r.bridge.Notify([]*registry.Record{rec("a.local", 9000), rec("b.local", 9000)})
	assert.Equal(t, codes.Unavailable, status.Code(cc.nextErr(t)))
	cc.assertQuiet(t)

	snap, ok := r.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:9000"}, addrsOf(snap))
}

func TestDuplicateAddressesCollapse(t *testing.T) {
	r, _ := newTestResolver(t, fakeHosts{"a.local": {"10.0.0.1"}})
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	r.bridge.Notify([]*registry.Record{rec("10.0.0.1", 9000), rec("a.local", 9000)})
	s := cc.nextState(t)
	assert.Equal(t, []string{"10.0.0.1:9000"}, addrsOf(s))
	assert.Len(t, s.Endpoints, 1)
}

func TestStateCarriesListenerAndAddresses(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	md := &registry.Record{ID: "i-1", Name: "svc-a", Host: "10.0.0.1", Port: 9000, Metadata: map[string]string{"version": "v1"}}
	r.bridge.Notify([]*registry.Record{md})
	s := cc.nextState(t)

	assert.Same(t, cc, ListenerFromAttributes(s.Attributes))
	assert.Equal(t, s.Addresses, AddressesFromAttributes(s.Attributes))
	assert.Equal(t, "v1", MetadataFromAddress(s.Addresses[0], "version"))
	assert.Equal(t, "i-1", MetadataFromAddress(s.Addresses[0], AttrInstanceID))
}

func TestConcurrentNotificationsNeverExposePartialState(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	cc := newFakeCC()
	cc.states = make(chan resolver.State, 256)
	require.NoError(t, r.Start(cc))

	batches := [][]*registry.Record{
		{rec("10.0.0.1", 9000)},
		{rec("10.0.0.1", 9000), rec("10.0.0.2", 9000)},
		{rec("10.0.0.1", 9000), rec("10.0.0.2", 9000), rec("10.0.0.3", 9000)},
	}
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(b []*registry.Record) {
			defer wg.Done()
			r.bridge.Notify(b)
		}(batches[i%len(batches)])
	}
	wg.Wait()

	var last resolver.State
	for i := 0; i < 60; i++ {
		s := cc.nextState(t)
		require.Len(t, s.Endpoints, len(s.Addresses))
		assert.Equal(t, s.Addresses, AddressesFromAttributes(s.Attributes))
		last = s
	}
	snap, ok := r.Snapshot()
	require.True(t, ok)
	assert.Equal(t, addrsOf(last), addrsOf(snap))
}

func TestResolveNowIsThrottled(t *testing.T) {
	reg := &countingRegistry{Registry: memory.New()}
	b := MustNewBuilder(registry.NewDescriptor("grpc", "svc-a", 0, nil),
		WithRegistry(reg),
		WithRefreshInterval(time.Hour),
	)
	r, err := b.NewResolver(&url.URL{Scheme: DefaultScheme}, nil)
	require.NoError(t, err)
	defer r.Shutdown()
	cc := newFakeCC()
	require.NoError(t, r.Start(cc))

	reg.Put("svc-a", rec("10.0.0.1", 9000))
	cc.nextState(t)

	r.ResolveNow(resolver.ResolveNowOptions{})
	r.ResolveNow(resolver.ResolveNowOptions{})
	cc.nextState(t)
	cc.assertQuiet(t)
}

func TestRefreshRetriesFailedSubscribe(t *testing.T) {
	reg := &flakySubscribeRegistry{Registry: memory.New(), failures: 1}
	b := MustNewBuilder(registry.NewDescriptor("grpc", "svc-a", 0, nil), WithRegistry(reg))
	r, err := b.NewResolver(&url.URL{Scheme: DefaultScheme, Host: "registry"}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)

	cc := newFakeCC()
	require.NoError(t, r.Start(cc))
	assert.Equal(t, codes.Unavailable, status.Code(cc.nextErr(t)))

	reg.Put("svc-a", rec("10.0.0.1", 80))
	cc.assertQuiet(t)

	// Refresh重新订阅成功,之后的推送可以正常送达
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, []string{"10.0.0.1:80"}, addrsOf(cc.nextState(t)))

	// 重新订阅时注册中心也会异步推送一次当前列表,跳过这份重复的快照
	reg.Put("svc-a", rec("10.0.0.1", 80), rec("10.0.0.2", 80))
	s := cc.nextState(t)
	if len(s.Addresses) == 1 {
		s = cc.nextState(t)
	}
	assert.ElementsMatch(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, addrsOf(s))

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Equal(t, 2, reg.attempts)
}
