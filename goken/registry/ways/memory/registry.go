package memory

import (
	"context"
	"net/url"
	"sync"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"
)

const Kind = "memory"

func init() {
	registry.RegisterFactory(Kind, func(*url.URL) (registry.Registry, error) {
		return New(), nil
	})
}

// Registry 进程内的注册中心,按服务名保存提供者列表,
// 每个订阅者拥有独立的投递协程,保证同一订阅者收到的通知与变更顺序一致
type Registry struct {
	mu       sync.Mutex
	services map[string][]*registry.Record
	subs     map[string]map[registry.NotifyListener]*registry.Mailbox
}

func New() *Registry {
	return &Registry{
		services: make(map[string][]*registry.Record),
		subs:     make(map[string]map[registry.NotifyListener]*registry.Mailbox),
	}
}

// Put 整体替换服务的提供者列表并通知所有订阅者,records为空表示服务下线
func (r *Registry) Put(service string, records ...*registry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = registry.CloneRecords(records)
	r.broadcast(service)
}

// 调用方需持有r.mu
func (r *Registry) broadcast(service string) {
	for _, mb := range r.subs[service] {
		mb.Push(registry.CloneRecords(r.services[service]))
	}
}

func (r *Registry) Discover(_ context.Context, d *registry.Descriptor) ([]*registry.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return registry.CloneRecords(r.services[d.ServiceName()]), nil
}

// Subscribe 订阅成功后若服务已有提供者会立刻异步推送一次当前列表
func (r *Registry) Subscribe(d *registry.Descriptor, listener registry.NotifyListener) error {
	if listener == nil {
		return errors.WithCode(errors.CodeIllegalUsage, "订阅%s时listener为空", d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	service := d.ServiceName()
	if r.subs[service] == nil {
		r.subs[service] = make(map[registry.NotifyListener]*registry.Mailbox)
	}
	if _, ok := r.subs[service][listener]; ok {
		return nil
	}
	mb := registry.NewMailbox(listener)
	r.subs[service][listener] = mb

	if records, ok := r.services[service]; ok && len(records) > 0 {
		mb.Push(registry.CloneRecords(records))
	}
	return nil
}

func (r *Registry) Unsubscribe(d *registry.Descriptor, listener registry.NotifyListener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	service := d.ServiceName()
	mb, ok := r.subs[service][listener]
	if !ok {
		log.Warnf("[memory registry] 取消了一个不存在的订阅, service= %s", service)
		return nil
	}
	delete(r.subs[service], listener)
	if len(r.subs[service]) == 0 {
		delete(r.subs, service)
	}
	mb.Close()
	return nil
}

// Register 实现registry.Registor,按实例ID追加或替换提供者
func (r *Registry) Register(_ context.Context, ins *registry.ServiceInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]*registry.Record, 0, len(r.services[ins.Name])+len(ins.Endpoints))
	for _, rec := range r.services[ins.Name] {
		if rec.ID != ins.ID {
			kept = append(kept, rec)
		}
	}
	r.services[ins.Name] = append(kept, ins.Records()...)
	r.broadcast(ins.Name)
	return nil
}

// Deregister 移除所有服务中ID为serviceID的提供者
func (r *Registry) Deregister(_ context.Context, serviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for service, records := range r.services {
		kept := records[:0:0]
		for _, rec := range records {
			if rec.ID != serviceID {
				kept = append(kept, rec)
			}
		}
		if len(kept) != len(records) {
			r.services[service] = kept
			r.broadcast(service)
		}
	}
	return nil
}
