package consul

import (
	"context"
	"strings"

	"github.com/hkensame/kdiscovery/goken/registry"

	"github.com/hashicorp/consul/api"
)

// 自定义的用于将consul的ServiceEntry转化为Record,scheme为订阅时使用的协议(如grpc)
type ServiceResolveFunc func(ctx context.Context, scheme string, entries []*api.ServiceEntry) []*registry.Record

// ServiceResolve 把得到的entries解析为对应的Record
// 地址优先取TaggedAddresses中与scheme同名的地址,其次是服务自身的Address,
// 服务未填写Address时按consul的约定使用节点地址
func ServiceResolve(_ context.Context, scheme string, entries []*api.ServiceEntry) []*registry.Record {
	records := make([]*registry.Record, 0, len(entries))
	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}
		svc := entry.Service

		md := make(map[string]string, len(svc.Meta)+1)
		for k, v := range svc.Meta {
			md[k] = v
		}
		//得到version信息
		for _, tag := range svc.Tags {
			ss := strings.SplitN(tag, "=", 2)
			if len(ss) == 2 && ss[0] == "version" {
				md["version"] = ss[1]
			}
		}

		host, port := svc.Address, svc.Port
		if addr, ok := svc.TaggedAddresses[scheme]; ok && addr.Address != "" {
			host, port = addr.Address, addr.Port
		}
		if host == "" && entry.Node != nil {
			host = entry.Node.Address
		}
		if host == "" || port == 0 {
			continue
		}
		records = append(records, &registry.Record{
			ID:       svc.ID,
			Name:     svc.Service,
			Host:     host,
			Port:     port,
			Metadata: md,
		})
	}
	return records
}
