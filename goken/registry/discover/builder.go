package discover

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"

	"google.golang.org/grpc/resolver"
)

// 为客户端Dial时address的前缀(协议段)
const DefaultScheme = "discovery"

// 多个resolver提供者声明处理同一个target时用于排序
const priority = 5

type BuilderOption func(o *Builder)

// Builder 按照target与订阅描述创建Resolver,除了创建时的配置之外不保存任何状态
//
// 客户端dial的target形如 discovery://127.0.0.1:8500/user?registry=consul&dc=dc1,
// host部分是注册中心的地址,registry参数决定注册中心的类型,token为注册中心的访问凭证,
// 未设置订阅描述时path即为服务名,其余参数合并进订阅描述
type Builder struct {
	scheme string
	desc   *registry.Descriptor

	newRegistry registry.Factory

	hostResolver    HostResolver
	resolveTimeout  time.Duration
	refreshInterval time.Duration
}

var _ resolver.Builder = (*Builder)(nil)

// MustNewBuilder 创建Builder,desc为所有Resolver共用的订阅描述,可以为nil
func MustNewBuilder(desc *registry.Descriptor, opts ...BuilderOption) *Builder {
	b := &Builder{
		scheme:          DefaultScheme,
		desc:            desc,
		newRegistry:     registry.NewRegistry,
		hostResolver:    net.DefaultResolver,
		resolveTimeout:  time.Second * 5,
		refreshInterval: time.Second * 5,
	}
	for _, o := range opts {
		o(b)
	}
	if b.scheme == "" {
		panic("[discover] builder的scheme不能为空")
	}
	return b
}

func (b *Builder) IsAvailable() bool {
	return true
}

func (b *Builder) Priority() int {
	return priority
}

// DefaultScheme 该Builder不会作为默认的resolver,只有显式指定scheme时才会生效
func (b *Builder) DefaultScheme() string {
	return ""
}

// Scheme return scheme of discovery
func (b *Builder) Scheme() string {
	return b.scheme
}

// NewResolver 合并Builder的订阅描述与本次调用的参数(同名时以params为准),
// 通过target得到注册中心并创建一个尚未启动的Resolver
func (b *Builder) NewResolver(target *url.URL, params map[string]string) (*Resolver, error) {
	base := b.desc
	if base == nil {
		service := strings.Trim(target.Path, "/")
		if service == "" {
			return nil, errors.WithCode(errors.CodeIllegalUsage, "[discover] target %q中缺少服务名", target.String())
		}
		base = registry.NewDescriptor("grpc", service, 0, nil)
	}
	desc := base.WithParams(params)

	reg, err := b.newRegistry(target)
	if err != nil {
		return nil, err
	}
	return newResolver(desc, reg, resolverConfig{
		hostResolver:    b.hostResolver,
		resolveTimeout:  b.resolveTimeout,
		refreshInterval: b.refreshInterval,
	}), nil
}

func (b *Builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	params := make(map[string]string)
	for k, vs := range target.URL.Query() {
		// registry与token等只交给注册中心的Factory,不出现在描述、日志与错误信息中
		if registry.IsConnParam(k) {
			continue
		}
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	u := target.URL
	r, err := b.NewResolver(&u, params)
	if err != nil {
		return nil, err
	}
	if err := r.Start(cc); err != nil {
		r.Shutdown()
		return nil, err
	}
	return r, nil
}

func WithScheme(scheme string) BuilderOption {
	return func(b *Builder) {
		b.scheme = scheme
	}
}

// WithRegistryFactory 自定义由target得到注册中心的方式,默认使用registry.NewRegistry
func WithRegistryFactory(f registry.Factory) BuilderOption {
	return func(b *Builder) {
		b.newRegistry = f
	}
}

// WithRegistry 忽略target,所有Resolver都使用reg
func WithRegistry(reg registry.Registry) BuilderOption {
	return WithRegistryFactory(func(*url.URL) (registry.Registry, error) {
		return reg, nil
	})
}

// 单次推送中解析全部域名的最长时间
func WithResolveTimeout(timeout time.Duration) BuilderOption {
	return func(b *Builder) {
		if timeout > 0 {
			b.resolveTimeout = timeout
		}
	}
}

func WithHostResolver(hr HostResolver) BuilderOption {
	return func(b *Builder) {
		if hr != nil {
			b.hostResolver = hr
		}
	}
}

// ResolveNow两次实际刷新之间的最小间隔
func WithRefreshInterval(interval time.Duration) BuilderOption {
	return func(b *Builder) {
		if interval > 0 {
			b.refreshInterval = interval
		}
	}
}
