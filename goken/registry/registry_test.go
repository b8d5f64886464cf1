package registry

import (
	"context"
	"net/url"
	"testing"

	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor("grpc://svc-a:9000/api?group=dev&version=1.0")
	require.NoError(t, err)
	assert.Equal(t, "grpc", d.Scheme())
	assert.Equal(t, "svc-a", d.ServiceName())
	assert.Equal(t, 9000, d.Port())
	assert.Equal(t, "/api", d.Path())
	assert.Equal(t, "dev", d.Param("group"))
	assert.Equal(t, "grpc://svc-a:9000/api?group=dev&version=1.0", d.String())
}

func TestParseDescriptorServiceFromPath(t *testing.T) {
	d, err := ParseDescriptor("discovery:///svc-b")
	require.NoError(t, err)
	assert.Equal(t, "svc-b", d.ServiceName())
	assert.Equal(t, 0, d.Port())

	_, err = ParseDescriptor("discovery:///")
	assert.Error(t, err)

	_, err = ParseDescriptor("grpc://svc:abc")
	assert.Error(t, err)
}

func TestDescriptorImmutable(t *testing.T) {
	src := map[string]string{"group": "dev"}
	d := NewDescriptor("grpc", "svc-a", 0, src)
	src["group"] = "prod"
	assert.Equal(t, "dev", d.Param("group"))

	p := d.Params()
	p["group"] = "prod"
	assert.Equal(t, "dev", d.Param("group"))

	merged := d.WithParams(map[string]string{"group": "prod", "zone": "a"})
	assert.Equal(t, "dev", d.Param("group"))
	assert.Equal(t, "prod", merged.Param("group"))
	assert.Equal(t, "a", merged.Param("zone"))
	assert.Equal(t, "grpc://svc-a?group=prod&zone=a", merged.String())
}

func TestServiceInstanceRecords(t *testing.T) {
	u1, _ := url.Parse("grpc://10.0.0.1:9000")
	u2, _ := url.Parse("http://node-1.local:8080")
	ins := &ServiceInstance{ID: "svc-a-1", Name: "svc-a", Version: "v1", Endpoints: []*url.URL{u1, u2}}

	records := ins.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "10.0.0.1", records[0].Host)
	assert.Equal(t, 9000, records[0].Port)
	assert.Equal(t, "v1", records[0].Metadata["version"])
	assert.Equal(t, "node-1.local:8080", records[1].HostPort())
	assert.Equal(t, "svc-a@10.0.0.1:9000", records[0].String())
}

type stubRegistry struct{ id int }

func (stubRegistry) Discover(context.Context, *Descriptor) ([]*Record, error) { return nil, nil }
func (stubRegistry) Subscribe(*Descriptor, NotifyListener) error              { return nil }
func (stubRegistry) Unsubscribe(*Descriptor, NotifyListener) error            { return nil }

func TestNewRegistryCachesPerAddress(t *testing.T) {
	created := 0
	RegisterFactory("stub", func(target *url.URL) (Registry, error) {
		created++
		return &stubRegistry{id: created}, nil
	})

	t1, _ := url.Parse("discovery://10.0.0.1:8500/svc-a?registry=stub")
	t2, _ := url.Parse("discovery://10.0.0.1:8500/svc-b?registry=stub")
	t3, _ := url.Parse("discovery://10.0.0.2:8500/svc-a?registry=stub")

	r1, err := NewRegistry(t1)
	require.NoError(t, err)
	r2, err := NewRegistry(t2)
	require.NoError(t, err)
	r3, err := NewRegistry(t3)
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, 2, created)
}

func TestNewRegistryUnknownKind(t *testing.T) {
	target, _ := url.Parse("discovery://10.0.0.1:8500/svc-a?registry=zookeeper")
	_, err := NewRegistry(target)
	assert.True(t, errors.IsCode(err, errors.CodeRegistryUnavailable))
}
