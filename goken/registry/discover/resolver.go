package discover

import (
	"context"
	"sync"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/juju/ratelimit"
	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"
)

// 服务发现的具体逻辑由该结构体完成
// resolver用于解析客户端传入的target(dial系函数的第一个参数),
// 通过订阅注册中心得到服务的提供者,展开为具体的地址后交给grpc
//
// 一个Resolver只对应一个订阅,Start最多调用一次,Shutdown之后不可再使用,
// 所有公开操作与注册中心的推送都在mu的保护下串行执行
type Resolver struct {
	desc *registry.Descriptor
	reg  registry.Registry
	cfg  resolverConfig

	//订阅与取消订阅时使用的必须是同一个bridge
	bridge *notifyBridge
	//限制ResolveNow触发的刷新频率
	refreshBucket *ratelimit.Bucket

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cc         resolver.ClientConn
	subscribed bool
	shutdown   bool
	state      resolver.State
	hasState   bool
}

// resolverConfig 由Builder在创建Resolver时拷贝一份,Resolver之间互不共享
type resolverConfig struct {
	hostResolver    HostResolver
	resolveTimeout  time.Duration
	refreshInterval time.Duration
}

func newResolver(desc *registry.Descriptor, reg registry.Registry, cfg resolverConfig) *Resolver {
	r := &Resolver{
		desc:          desc,
		reg:           reg,
		cfg:           cfg,
		refreshBucket: ratelimit.NewBucket(cfg.refreshInterval, 1),
	}
	r.bridge = &notifyBridge{r: r}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start 设置唯一的观察者并向注册中心订阅,第一份地址会由注册中心异步推送,
// 重复调用或在Shutdown之后调用都会返回CodeIllegalUsage
func (r *Resolver) Start(cc resolver.ClientConn) error {
	if cc == nil {
		return errors.WithCode(errors.CodeIllegalUsage, "[discover] resolver的观察者不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cc != nil {
		return errors.WithCode(errors.CodeIllegalUsage, "[discover] resolver %s已经启动", r.desc)
	}
	if r.shutdown {
		return errors.WithCode(errors.CodeIllegalUsage, "[discover] resolver %s已经关闭", r.desc)
	}
	r.cc = cc
	r.resolve()
	return nil
}

// 调用方需持有r.mu
func (r *Resolver) resolve() {
	if r.shutdown || r.subscribed {
		return
	}
	if err := r.reg.Subscribe(r.desc, r.bridge); err != nil {
		log.Errorf("[discover] 订阅%s失败, err= %v", r.desc, err)
		r.reportError(errors.WithCoder(err, errors.CodeResolutionUnavailable, "订阅"+r.desc.String()+"失败"))
		return
	}
	r.subscribed = true
}

// Refresh 同步向注册中心查询一次当前的提供者,并按推送的方式处理结果,
// 之前订阅失败时会先重新订阅
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cc == nil {
		return errors.WithCode(errors.CodeIllegalUsage, "[discover] resolver %s尚未启动", r.desc)
	}
	if r.shutdown {
		return errors.WithCode(errors.CodeIllegalUsage, "[discover] resolver %s已经关闭", r.desc)
	}
	r.resolve()

	records, err := r.reg.Discover(ctx, r.desc)
	if err != nil {
		err = errors.WithCoder(err, errors.CodeResolutionUnavailable, "查询"+r.desc.String()+"失败")
		r.reportError(err)
		return err
	}
	log.Infof("[discover] 刷新%s, 注册中心返回的提供者为%v", r.desc, records)
	r.notifyLoadBalance(ctx, records)
	return nil
}

// notifyLoadBalance 把一批Record展开为地址并发布给观察者,调用方需持有r.mu
//
// 列表为空时只上报NotFound,不触碰已发布的快照;
// 部分Record解析失败时会合并上报一次Unavailable,成功的部分依旧发布;
// 全部失败时只上报错误
func (r *Resolver) notifyLoadBalance(ctx context.Context, records []*registry.Record) {
	if len(records) == 0 {
		r.reportError(errors.WithCode(errors.CodeMembershipEmpty, "注册中心中没有%s的服务提供者", r.desc))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.resolveTimeout)
	defer cancel()

	endpoints := make([]resolver.Endpoint, 0, len(records))
	addrs := make([]resolver.Address, 0, len(records))
	// 不同Record可能解析出同一个地址,只保留第一次出现的
	seen := make(map[string]struct{}, len(records))
	var errs []error
	for _, rec := range records {
		resolved, err := ResolveRecord(ctx, r.cfg.hostResolver, rec)
		if err != nil {
			log.Warnf("[discover] 解析%s失败, err= %v", rec, err)
			errs = append(errs, err)
			continue
		}
		group := make([]resolver.Address, 0, len(resolved))
		for _, a := range resolved {
			if _, ok := seen[a.Addr]; ok {
				continue
			}
			seen[a.Addr] = struct{}{}
			group = append(group, a)
		}
		if len(group) == 0 {
			continue
		}
		endpoints = append(endpoints, resolver.Endpoint{Addresses: group})
		addrs = append(addrs, group...)
	}

	if len(errs) > 0 {
		r.reportError(errors.WithCoder(errors.NewErrorGroup(errs), errors.CodeResolutionUnavailable,
			"解析"+r.desc.String()+"的提供者地址失败"))
	}
	if len(addrs) == 0 {
		return
	}

	state := resolver.State{
		Endpoints:  endpoints,
		Addresses:  addrs,
		Attributes: r.buildConfig(addrs),
	}
	r.state, r.hasState = state, true
	if err := r.cc.UpdateState(state); err != nil {
		log.Errorf("[discover] resolver服务更新失败, err= %v", err)
	}
}

// buildConfig 附带观察者与解析出的地址列表,负载均衡侧可直接取用而无需回查resolver
func (r *Resolver) buildConfig(addrs []resolver.Address) *attributes.Attributes {
	return attributes.New(listenerKey{}, r.cc).WithValue(addressesKey{}, addressList(addrs))
}

// 调用方需持有r.mu
func (r *Resolver) reportError(err error) {
	if r.cc == nil {
		return
	}
	r.cc.ReportError(errors.StatusError(err))
}

// Shutdown 可重复调用,只有第一次会向注册中心取消订阅
func (r *Resolver) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return
	}
	r.shutdown = true
	r.cancel()
	if !r.subscribed {
		return
	}
	if err := r.reg.Unsubscribe(r.desc, r.bridge); err != nil {
		log.Errorf("[discover] resolver取消订阅%s失败, err= %v", r.desc, err)
	}
	r.subscribed = false
}

// Snapshot 返回最近一次发布给观察者的状态
func (r *Resolver) Snapshot() (resolver.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.hasState
}

func (r *Resolver) Descriptor() *registry.Descriptor {
	return r.desc
}

func (r *Resolver) ServiceAuthority() string {
	return "grpc"
}

// ResolveNow grpc在连接出错时会调用,这里异步刷新一次,刷新频率受令牌桶限制
func (r *Resolver) ResolveNow(resolver.ResolveNowOptions) {
	if r.refreshBucket.TakeAvailable(1) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.resolveTimeout)
		defer cancel()
		if err := r.Refresh(ctx); err != nil && r.ctx.Err() == nil {
			log.Warnf("[discover] ResolveNow刷新%s失败, err= %v", r.desc, err)
		}
	}()
}

func (r *Resolver) Close() {
	r.Shutdown()
}

type listenerKey struct{}

type addressesKey struct{}

type addressList []resolver.Address

func (l addressList) Equal(o any) bool {
	ol, ok := o.(addressList)
	if !ok || len(ol) != len(l) {
		return false
	}
	for i := range l {
		if !l[i].Equal(ol[i]) {
			return false
		}
	}
	return true
}

// ListenerFromAttributes 取出发布状态时附带的观察者
func ListenerFromAttributes(a *attributes.Attributes) resolver.ClientConn {
	cc, _ := a.Value(listenerKey{}).(resolver.ClientConn)
	return cc
}

// AddressesFromAttributes 取出发布状态时附带的地址列表
func AddressesFromAttributes(a *attributes.Attributes) []resolver.Address {
	l, _ := a.Value(addressesKey{}).(addressList)
	return l
}
