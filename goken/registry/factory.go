package registry

import (
	"net/url"
	"sync"

	"github.com/hkensame/kdiscovery/pkg/errors"
)

const (
	// target中用于指定注册中心类型的参数名
	KindParam = "registry"
	// 未指定时使用的注册中心类型
	DefaultKind = "consul"
	// target中注册中心的访问凭证,只用于创建Registry
	TokenParam = "token"
)

// 只用于连接注册中心的target参数,不会进入订阅描述
var connParams = map[string]struct{}{
	KindParam:  {},
	TokenParam: {},
}

// IsConnParam 判断target参数是否只用于连接注册中心
func IsConnParam(key string) bool {
	_, ok := connParams[key]
	return ok
}

// Factory 根据target(一般是注册中心的地址)创建Registry
type Factory func(target *url.URL) (Registry, error)

var (
	factoryMu sync.Mutex
	factories = make(map[string]Factory)
	// 同一个注册中心地址只创建一次Registry
	registries = make(map[string]Registry)
)

// RegisterFactory 注册一种注册中心的创建方式,一般在具体实现包的init中调用,
// 重复注册时后者覆盖前者
func RegisterFactory(kind string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = f
}

// NewRegistry 按照target中registry参数指定的类型找到Factory并创建Registry,
// target的host部分作为注册中心的地址,相同类型与地址的Registry会被复用
func NewRegistry(target *url.URL) (Registry, error) {
	kind := target.Query().Get(KindParam)
	if kind == "" {
		kind = DefaultKind
	}
	key := kind + "://" + target.Host

	factoryMu.Lock()
	defer factoryMu.Unlock()
	if r, ok := registries[key]; ok {
		return r, nil
	}
	f, ok := factories[kind]
	if !ok {
		return nil, errors.WithCode(errors.CodeRegistryUnavailable, "未注册的注册中心类型%q", kind)
	}
	r, err := f(target)
	if err != nil {
		return nil, errors.WithCoder(err, errors.CodeRegistryUnavailable, "创建注册中心"+key+"失败")
	}
	registries[key] = r
	return r, nil
}
