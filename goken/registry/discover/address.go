package discover

import (
	"context"
	"net"
	"net/netip"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"

	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"
)

// HostResolver 域名解析接口,*net.Resolver实现了该接口
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var _ HostResolver = net.DefaultResolver

// ResolveRecord 把一条Record展开为具体的地址,
// host是ip字面量时直接返回一个地址,不会进行任何网络io;
// 否则通过hr解析域名,每个解析出的ip对应一个地址,端口与Record一致
func ResolveRecord(ctx context.Context, hr HostResolver, rec *registry.Record) ([]resolver.Address, error) {
	if rec.Port <= 0 || rec.Port > 65535 {
		return nil, errors.WithCode(errors.CodeResolutionUnavailable, "%s的端口%d非法", rec, rec.Port)
	}
	port := uint16(rec.Port)
	attrs := parseAttributes(rec)

	if ip, err := netip.ParseAddr(rec.Host); err == nil {
		return []resolver.Address{newAddress(netip.AddrPortFrom(ip.Unmap(), port), attrs)}, nil
	}

	ips, err := hr.LookupIPAddr(ctx, rec.Host)
	if err != nil {
		return nil, errors.WithCoder(err, errors.CodeResolutionUnavailable, "无法解析"+rec.String()+"的主机名")
	}
	addrs := make([]resolver.Address, 0, len(ips))
	for _, ipAddr := range ips {
		ip, ok := netip.AddrFromSlice(ipAddr.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ipAddr.Zone != "" {
			ip = ip.WithZone(ipAddr.Zone)
		}
		addrs = append(addrs, newAddress(netip.AddrPortFrom(ip, port), attrs))
	}
	if len(addrs) == 0 {
		return nil, errors.WithCode(errors.CodeResolutionUnavailable, "主机名%s没有解析出任何地址", rec.Host)
	}
	return addrs, nil
}

func newAddress(ap netip.AddrPort, attrs *attributes.Attributes) resolver.Address {
	return resolver.Address{
		Addr:       ap.String(),
		Attributes: attrs,
	}
}

// 记录的元数据以字符串键值对的形式放入地址的Attributes,id与服务名也一并带上
func parseAttributes(rec *registry.Record) *attributes.Attributes {
	var a *attributes.Attributes
	set := func(k, v string) {
		if a == nil {
			a = attributes.New(k, v)
		} else {
			a = a.WithValue(k, v)
		}
	}
	for k, v := range rec.Metadata {
		set(k, v)
	}
	if rec.ID != "" {
		set(AttrInstanceID, rec.ID)
	}
	if rec.Name != "" {
		set(AttrServiceName, rec.Name)
	}
	return a
}

// 地址Attributes中的保留键
const (
	AttrInstanceID  = "kdiscovery.instance_id"
	AttrServiceName = "kdiscovery.service"
)

// MetadataFromAddress 读取地址上携带的某个元数据
func MetadataFromAddress(addr resolver.Address, key string) string {
	if addr.Attributes == nil {
		return ""
	}
	v, _ := addr.Attributes.Value(key).(string)
	return v
}
