package registry

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/hkensame/kdiscovery/pkg/errors"
)

//任意注册中心想嵌入到代码中只需实现以下接口

// Registry 服务发现接口,对应注册中心的查询与订阅能力
type Registry interface {
	//一次性查询descriptor对应服务当前的所有提供者
	Discover(ctx context.Context, d *Descriptor) ([]*Record, error)
	//订阅descriptor对应服务的变化,注册中心在自己的协程中调用listener.Notify,
	//每次推送的都是完整的提供者列表,可能重复推送相同的列表
	Subscribe(d *Descriptor, listener NotifyListener) error
	//取消订阅,listener按照接口值(指针)的同一性匹配,而不是按值比较
	Unsubscribe(d *Descriptor, listener NotifyListener) error
}

// NotifyListener 订阅回调
type NotifyListener interface {
	Notify(records []*Record)
}

// Registor 服务注册接口
type Registor interface {
	Register(context.Context, *ServiceInstance) error
	Deregister(context.Context, string) error
}

var (
	ErrRegisterFailed   = errors.New("服务注册失败")
	ErrDeregisterFailed = errors.New("服务注销失败")
)

// Record 注册中心返回的一个服务提供者,只在一次通知周期内有效
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	//ip字面量或者域名
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata"`
}

func (r *Record) HostPort() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r *Record) String() string {
	if r.Name == "" {
		return r.HostPort()
	}
	return r.Name + "@" + r.HostPort()
}

// ServiceInstance 服务注册时使用的实例描述
type ServiceInstance struct {
	//注册到注册中心的服务id
	ID string `json:"id"`

	//服务名称
	Name string `json:"name"`

	//服务版本
	Version string `json:"version"`

	//服务元数据
	Metadata map[string]string `json:"metadata"`

	//grpc://127.0.0.1:9000
	//一般来说该切片只用当成一个string即可,若想在一台机器上既运行http服务也运行grpc服务即可作切片使用
	Endpoints []*url.URL `json:"endpoints"`
}

// Records 把实例展开为服务发现使用的Record,每个endpoint对应一条
func (ins *ServiceInstance) Records() []*Record {
	records := make([]*Record, 0, len(ins.Endpoints))
	for _, e := range ins.Endpoints {
		port, _ := strconv.Atoi(e.Port())
		md := make(map[string]string, len(ins.Metadata)+1)
		for k, v := range ins.Metadata {
			md[k] = v
		}
		if ins.Version != "" {
			md["version"] = ins.Version
		}
		records = append(records, &Record{
			ID:       ins.ID,
			Name:     ins.Name,
			Host:     e.Hostname(),
			Port:     port,
			Metadata: md,
		})
	}
	return records
}
