package consul

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/hashicorp/consul/api"
)

// Registor 是对consul agent服务注册接口的一层封装
type Registor struct {
	cli     *api.Client
	timeout string
	//健康检查的时间间隔
	healthcheckInterval            string
	deregisterCriticalServiceAfter string
	// 用户指定的自定义需要检查的地址
	serviceChecks api.AgentServiceChecks
	//心跳检查标志
	heartBeat         bool
	enableHealthCheck bool
	ttlTimeout        string
}

type RegistorOption func(*Registor)

// 这里为了灵活性选择让调用者自己传入api.Client
func MustNewConsulRegistor(apiClient *api.Client, opts ...RegistorOption) *Registor {
	r := &Registor{
		cli:                            apiClient,
		timeout:                        "20s",
		healthcheckInterval:            "20s",
		deregisterCriticalServiceAfter: "1m",
		enableHealthCheck:              true,
		ttlTimeout:                     "5s",
		heartBeat:                      false,
	}

	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registor) registration(ins *registry.ServiceInstance) *api.AgentServiceRegistration {
	//这里map的key是应用层协议,服务发现时也是按协议名取地址
	addresses := make(map[string]api.ServiceAddress, len(ins.Endpoints))
	checkAddresses := make([]*url.URL, 0, len(ins.Endpoints))
	for _, endpoint := range ins.Endpoints {
		port, _ := strconv.Atoi(endpoint.Port())
		checkAddresses = append(checkAddresses, endpoint)
		addresses[endpoint.Scheme] = api.ServiceAddress{Address: endpoint.Hostname(), Port: port}
	}
	asr := &api.AgentServiceRegistration{
		ID:   ins.ID,
		Name: ins.Name,
		Meta: ins.Metadata,
		Tags: []string{fmt.Sprintf("version=%s", ins.Version)},
		//TaggedAddresses 用于一次注册多个地址
		TaggedAddresses: addresses,
	}

	//拿第一个地址做默认地址
	if len(checkAddresses) > 0 {
		asr.Address = checkAddresses[0].Hostname()
		asr.Port, _ = strconv.Atoi(checkAddresses[0].Port())
	}

	if r.enableHealthCheck {
		for _, address := range checkAddresses {
			switch address.Scheme {
			case "grpc":
				asr.Checks = append(asr.Checks, &api.AgentServiceCheck{
					GRPC:                           address.Host,
					Interval:                       r.healthcheckInterval,
					DeregisterCriticalServiceAfter: r.deregisterCriticalServiceAfter,
					Timeout:                        r.timeout,
				})

			case "http", "https":
				asr.Checks = append(asr.Checks, &api.AgentServiceCheck{
					HTTP:                           address.Scheme + "://" + address.Host + "/health",
					Interval:                       r.healthcheckInterval,
					DeregisterCriticalServiceAfter: r.deregisterCriticalServiceAfter,
					Timeout:                        r.timeout,
				})
			}
		}
		if r.serviceChecks != nil {
			asr.Checks = append(asr.Checks, r.serviceChecks...)
		}
	}

	//相比于上面的检查模式,TTL模式要求服务主动向consul发送请求来确定服务是健康的
	if r.heartBeat {
		asr.Checks = append(asr.Checks, &api.AgentServiceCheck{
			CheckID:                        ttlCheckID(ins.ID),
			TTL:                            r.ttlTimeout,
			DeregisterCriticalServiceAfter: r.deregisterCriticalServiceAfter,
		})
	}
	return asr
}

func ttlCheckID(serviceID string) string {
	return "service:" + serviceID
}

// Register 服务注册接口,开启心跳时会额外启动一个协程维持TTL,ctx结束时该协程注销服务并退出
func (r *Registor) Register(ctx context.Context, ins *registry.ServiceInstance) error {
	asr := r.registration(ins)
	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.cli.Agent().ServiceRegisterOpts(asr, opts); err != nil {
		log.Errorf("[consul] 服务注册失败 err = %v", err)
		return errors.WithCoder(err, errors.CodeRegistryUnavailable, registry.ErrRegisterFailed.Error())
	}
	if r.heartBeat {
		go r.heartBeatLoop(ctx, asr)
	}
	return nil
}

func (r *Registor) heartBeatLoop(ctx context.Context, asr *api.AgentServiceRegistration) {
	checkID := ttlCheckID(asr.ID)
	if err := r.cli.Agent().UpdateTTL(checkID, "pass", api.HealthPassing); err != nil {
		log.Errorf("[consul] 心跳检查初始化服务状态失败 err= %v", err)
	}

	ttl, err := time.ParseDuration(r.ttlTimeout)
	if err != nil || ttl <= 0 {
		ttl = 5 * time.Second
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.cli.Agent().ServiceDeregister(asr.ID)
			return
		case <-ticker.C:
			err := r.cli.Agent().UpdateTTLOpts(checkID, "pass", api.HealthPassing, new(api.QueryOptions).WithContext(ctx))
			if ctx.Err() != nil {
				_ = r.cli.Agent().ServiceDeregister(asr.ID)
				return
			}
			if err == nil {
				continue
			}
			log.Errorf("[consul] 心跳检查更新服务状态失败 err= %v", err)
			// 更新失败时稍等后重新注册服务
			time.Sleep(time.Duration(rand.Intn(1000)) * time.Millisecond)
			if err := r.cli.Agent().ServiceRegister(asr); err != nil {
				log.Errorf("[consul] 心跳检查重新注册失败 err= %v", err)
			} else {
				log.Warnf("[consul] 心跳检查重新注册服务%s成功", asr.ID)
			}
		}
	}
}

// 移除服务中心的服务
func (r *Registor) Deregister(ctx context.Context, serviceID string) error {
	if err := r.cli.Agent().ServiceDeregister(serviceID); err != nil {
		log.Errorf("[consul] 服务注销失败 err = %v", err)
		return errors.WithCoder(err, errors.CodeRegistryUnavailable, registry.ErrDeregisterFailed.Error())
	}
	return nil
}

// 设置Timeout,
func WithTimeout(timeout string) RegistorOption {
	if _, valid := time.ParseDuration(timeout); valid != nil {
		return func(r *Registor) {}
	}
	return func(r *Registor) {
		r.timeout = timeout
	}
}

func WithTTLtimeout(ttlTimeout string) RegistorOption {
	if _, valid := time.ParseDuration(ttlTimeout); valid != nil {
		return func(r *Registor) {}
	}
	return func(r *Registor) {
		r.ttlTimeout = ttlTimeout
	}
}

// 设置healthcheckInterval
func WithHealthcheckInterval(interval string) RegistorOption {
	if _, valid := time.ParseDuration(interval); valid != nil {
		return func(r *Registor) {}
	}
	return func(r *Registor) {
		r.healthcheckInterval = interval
	}
}

// 设置deregisterCriticalServiceAfter
func WithDeregisterCriticalServiceAfter(after string) RegistorOption {
	if _, valid := time.ParseDuration(after); valid != nil {
		return func(r *Registor) {}
	}
	return func(r *Registor) {
		r.deregisterCriticalServiceAfter = after
	}
}

// 设置自定义的服务检查
func WithServiceChecks(checks api.AgentServiceChecks) RegistorOption {
	return func(r *Registor) {
		r.serviceChecks = checks
	}
}

// 启用心跳检查
func WithHeartBeat(enabled bool) RegistorOption {
	return func(r *Registor) {
		r.heartBeat = enabled
	}
}

// 启用健康检查
func WithEnableHealthCheck(enabled bool) RegistorOption {
	return func(r *Registor) {
		r.enableHealthCheck = enabled
	}
}
