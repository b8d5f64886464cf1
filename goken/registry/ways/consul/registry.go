package consul

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/consul/api"
	"go.uber.org/ratelimit"
)

const Kind = "consul"

func init() {
	registry.RegisterFactory(Kind, NewFromTarget)
}

// NewFromTarget 以target的host作为consul agent地址创建Registry,
// 支持的参数: dc(数据中心), token(ACL token)
func NewFromTarget(target *url.URL) (registry.Registry, error) {
	cfg := api.DefaultConfig()
	if target.Host != "" {
		cfg.Address = target.Host
	}
	q := target.Query()
	if dc := q.Get("dc"); dc != "" {
		cfg.Datacenter = dc
	}
	if token := q.Get(registry.TokenParam); token != "" {
		cfg.Token = token
	}
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return MustNewConsulRegistry(cli), nil
}

// Registry 基于consul阻塞查询实现的registry.Registry,
// 同一个Descriptor无论被订阅多少次都只会有一个查询协程
type Registry struct {
	cli *api.Client
	//阻塞查询单次最长等待时间
	waitTime time.Duration
	//只返回健康检查通过的实例
	passingOnly bool
	//每秒最多发起的查询次数,防止consul频繁变更时打满agent
	queryRate int
	//一次性查询失败时的最大尝试次数
	maxTries uint
	//用于将从consul得到的服务描述结构体转为Record
	serviceResolver ServiceResolveFunc

	limiter ratelimit.Limiter

	lock    sync.Mutex
	watches map[string]*watch
}

type RegistryOption func(r *Registry)

func MustNewConsulRegistry(cli *api.Client, opts ...RegistryOption) *Registry {
	r := &Registry{
		cli:             cli,
		waitTime:        time.Second * 55,
		passingOnly:     true,
		queryRate:       10,
		maxTries:        3,
		serviceResolver: ServiceResolve,
		watches:         make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queryRate > 0 {
		r.limiter = ratelimit.New(r.queryRate)
	} else {
		r.limiter = ratelimit.NewUnlimited()
	}
	return r
}

// 对一个被订阅服务的抽象
type watch struct {
	desc   *registry.Descriptor
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[registry.NotifyListener]*registry.Mailbox
	//最近一次查询到的结果,后加入的订阅者会立刻收到它
	last    []*registry.Record
	hasLast bool
}

func (w *watch) publish(records []*registry.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last, w.hasLast = records, true
	for _, mb := range w.listeners {
		mb.Push(registry.CloneRecords(records))
	}
}

func (r *Registry) Discover(ctx context.Context, d *registry.Descriptor) ([]*registry.Record, error) {
	op := func() ([]*registry.Record, error) {
		records, _, err := r.query(ctx, d, 0)
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return records, err
	}
	records, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil {
		return nil, errors.WithCoder(err, errors.CodeRegistryUnavailable, "从consul查询"+d.ServiceName()+"失败")
	}
	return records, nil
}

func (r *Registry) Subscribe(d *registry.Descriptor, listener registry.NotifyListener) error {
	if listener == nil {
		return errors.WithCode(errors.CodeIllegalUsage, "订阅%s时listener为空", d)
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	key := d.String()
	w, ok := r.watches[key]
	if !ok {
		w = &watch{
			desc:      d,
			listeners: make(map[registry.NotifyListener]*registry.Mailbox),
		}
		w.ctx, w.cancel = context.WithCancel(context.Background())
		r.watches[key] = w
		go r.watchLoop(w)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.listeners[listener]; ok {
		return nil
	}
	mb := registry.NewMailbox(listener)
	w.listeners[listener] = mb
	if w.hasLast {
		mb.Push(registry.CloneRecords(w.last))
	}
	return nil
}

func (r *Registry) Unsubscribe(d *registry.Descriptor, listener registry.NotifyListener) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := d.String()
	w, ok := r.watches[key]
	if !ok {
		return nil
	}
	w.mu.Lock()
	if mb, ok := w.listeners[listener]; ok {
		mb.Close()
		delete(w.listeners, listener)
	}
	empty := len(w.listeners) == 0
	w.mu.Unlock()

	// 没有订阅者后停止对consul的轮询
	if empty {
		w.cancel()
		delete(r.watches, key)
	}
	return nil
}

// watchLoop 使用consul的index进行阻塞查询,只有index变化时才推送,出错时按指数退避重试
func (r *Registry) watchLoop(w *watch) {
	var idx uint64
	bo := backoff.NewExponentialBackOff()
	for {
		r.limiter.Take()
		if w.ctx.Err() != nil {
			return
		}

		records, lastIdx, err := r.query(w.ctx, w.desc, idx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Errorf("[consul] 订阅%s时查询失败, %v后重试, err= %v", w.desc.ServiceName(), wait, err)
			select {
			case <-time.After(wait):
			case <-w.ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		//阻塞查询超时返回但数据没有变化
		if idx != 0 && lastIdx == idx {
			continue
		}
		//index回退说明consul发生了重置,需要从头开始
		if lastIdx < idx {
			idx = 0
		} else {
			idx = lastIdx
		}
		w.publish(records)
	}
}

// query 从consul中查询服务,index为0时立即返回,否则阻塞至数据变化或waitTime超时
func (r *Registry) query(ctx context.Context, d *registry.Descriptor, index uint64) ([]*registry.Record, uint64, error) {
	opts := &api.QueryOptions{
		//每次consul对服务数据进行修改时都会生成一个递增的Index,
		//WaitIndex告知consul从哪个索引开始阻塞查询,直到索引变更或者超时
		WaitIndex:  index,
		WaitTime:   r.waitTime,
		Datacenter: d.Param("dc"),
	}
	opts = opts.WithContext(ctx)

	entries, meta, err := r.cli.Health().Service(d.ServiceName(), d.Param("tag"), r.passingOnly, opts)
	if err != nil {
		return nil, 0, err
	}
	scheme := d.Scheme()
	if scheme == "" {
		scheme = "grpc"
	}
	return r.serviceResolver(ctx, scheme, entries), meta.LastIndex, nil
}

func WithWaitTime(t time.Duration) RegistryOption {
	return func(r *Registry) {
		r.waitTime = t
	}
}

func WithPassingOnly(on bool) RegistryOption {
	return func(r *Registry) {
		r.passingOnly = on
	}
}

// 每秒最多发起的查询次数,小于等于0时不做限制
func WithQueryRate(rate int) RegistryOption {
	return func(r *Registry) {
		r.queryRate = rate
	}
}

func WithMaxTries(n uint) RegistryOption {
	return func(r *Registry) {
		r.maxTries = n
	}
}

func WithServiceResolver(resolver ServiceResolveFunc) RegistryOption {
	return func(r *Registry) {
		r.serviceResolver = resolver
	}
}
