package main

import (
	"time"

	"github.com/hkensame/kdiscovery/goken/server/rpcserver"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver/command"
	"github.com/hkensame/kdiscovery/pkg/config"
	"github.com/hkensame/kdiscovery/pkg/log"
)

const (
	ModeProvider = "provider"
	ModeConsumer = "consumer"
	envPrefix    = "kdiscovery"
)

type Options struct {
	//provider: 注册自身并提供grpc服务; consumer: 通过服务发现周期性调用provider
	Mode    string `json:"mode"    mapstructure:"mode"    validate:"required,oneof=provider consumer"`
	Service string `json:"service" mapstructure:"service" validate:"required"`

	Log      *log.Options    `json:"log"      mapstructure:"log"`
	Consul   ConsulOptions   `json:"consul"   mapstructure:"consul"`
	Provider ProviderOptions `json:"provider" mapstructure:"provider"`
	Consumer ConsumerOptions `json:"consumer" mapstructure:"consumer"`
	Resolver ResolverOptions `json:"resolver" mapstructure:"resolver"`
	Command  CommandOptions  `json:"command"  mapstructure:"command"`
	Trace    TraceOptions    `json:"trace"    mapstructure:"trace"`
	Admin    AdminOptions    `json:"admin"    mapstructure:"admin"`
}

type ConsulOptions struct {
	Address     string        `json:"address"      mapstructure:"address"      validate:"required,hostname_port"`
	Datacenter  string        `json:"datacenter"   mapstructure:"datacenter"`
	Token       string        `json:"token"        mapstructure:"token"`
	WaitTime    time.Duration `json:"wait-time"    mapstructure:"wait-time"    validate:"gte=0"`
	QueryRate   int           `json:"query-rate"   mapstructure:"query-rate"   validate:"gte=0"`
	PassingOnly bool          `json:"passing-only" mapstructure:"passing-only"`
	MaxTries    uint          `json:"max-tries"    mapstructure:"max-tries"    validate:"gte=1"`
}

type ProviderOptions struct {
	Host     string            `json:"host"     mapstructure:"host"     validate:"required"`
	ID       string            `json:"id"       mapstructure:"id"`
	Version  string            `json:"version"  mapstructure:"version"`
	Metadata map[string]string `json:"metadata" mapstructure:"metadata"`
	//单个请求在服务端的最长处理时间,为0时不限制
	Timeout     time.Duration `json:"timeout"      mapstructure:"timeout"      validate:"gte=0"`
	HealthCheck bool          `json:"health-check" mapstructure:"health-check"`
	HeartBeat   bool          `json:"heart-beat"   mapstructure:"heart-beat"`
	TTL         string        `json:"ttl"          mapstructure:"ttl"`
}

type ConsumerOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval" validate:"gt=0"`
	Balance  string        `json:"balance"  mapstructure:"balance"  validate:"oneof=round_robin pick_first"`
	//订阅参数,如tag,dc
	Params map[string]string `json:"params" mapstructure:"params"`
}

type ResolverOptions struct {
	ResolveTimeout  time.Duration `json:"resolve-timeout"  mapstructure:"resolve-timeout"  validate:"gt=0"`
	RefreshInterval time.Duration `json:"refresh-interval" mapstructure:"refresh-interval" validate:"gt=0"`
}

type CommandOptions struct {
	Enable           bool          `json:"enable"             mapstructure:"enable"`
	TimeoutMillis    int           `json:"timeout-ms"         mapstructure:"timeout-ms"         validate:"gt=0"`
	MaxConcurrent    int64         `json:"max-concurrent"     mapstructure:"max-concurrent"     validate:"gte=1"`
	HalfOpenRequests uint32        `json:"half-open-requests" mapstructure:"half-open-requests" validate:"gte=1"`
	BreakerInterval  time.Duration `json:"breaker-interval"   mapstructure:"breaker-interval"   validate:"gte=0"`
	OpenTimeout      time.Duration `json:"open-timeout"       mapstructure:"open-timeout"       validate:"gt=0"`
	MinRequests      uint32        `json:"min-requests"       mapstructure:"min-requests"       validate:"gte=1"`
	FailureRatio     float64       `json:"failure-ratio"      mapstructure:"failure-ratio"      validate:"gt=0,lte=1"`
}

type TraceOptions struct {
	Enable bool `json:"enable" mapstructure:"enable"`
	//otlp http collector地址,为空时span输出到stdout
	Endpoint string  `json:"endpoint" mapstructure:"endpoint"`
	Sampler  float64 `json:"sampler"  mapstructure:"sampler" validate:"gte=0,lte=1"`
}

type AdminOptions struct {
	Host          string `json:"host"           mapstructure:"host"`
	EnableMetrics bool   `json:"enable-metrics" mapstructure:"enable-metrics"`
}

func NewOptions() *Options {
	return &Options{
		Mode: ModeProvider,
		Log:  log.NewDefaultOptions(),
		Consul: ConsulOptions{
			Address:     "127.0.0.1:8500",
			WaitTime:    55 * time.Second,
			QueryRate:   10,
			PassingOnly: true,
			MaxTries:    3,
		},
		Provider: ProviderOptions{
			Host:        "127.0.0.1:0",
			HealthCheck: true,
			TTL:         "10s",
		},
		Consumer: ConsumerOptions{
			Interval: time.Second,
			Balance:  rpcserver.RoundRobin,
		},
		Resolver: ResolverOptions{
			ResolveTimeout:  5 * time.Second,
			RefreshInterval: 5 * time.Second,
		},
		Command: CommandOptions{
			Enable:           true,
			TimeoutMillis:    int(command.DefaultTimeout / time.Millisecond),
			MaxConcurrent:    10,
			HalfOpenRequests: 1,
			BreakerInterval:  10 * time.Second,
			OpenTimeout:      5 * time.Second,
			MinRequests:      20,
			FailureRatio:     0.5,
		},
		Trace: TraceOptions{
			Sampler: 1.0,
		},
		Admin: AdminOptions{
			EnableMetrics: true,
		},
	}
}

// LoadOptions 读取配置文件并用KDISCOVERY_前缀的环境变量覆盖,最后做校验
func LoadOptions(file string) (*Options, error) {
	opts := NewOptions()
	l := config.NewLoader(config.WithEnableEnv(true), config.WithEnvPrefix(envPrefix))
	if err := l.Load(file, opts); err != nil {
		return nil, err
	}
	opts.Log.Complete()

	va, err := config.NewValidator("zh")
	if err != nil {
		return nil, err
	}
	if err := va.Struct(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *CommandOptions) Isolation() *command.Isolation {
	return command.MustNewIsolation(
		command.WithMaxConcurrent(o.MaxConcurrent),
		command.WithHalfOpenRequests(o.HalfOpenRequests),
		command.WithBreakerInterval(o.BreakerInterval),
		command.WithOpenTimeout(o.OpenTimeout),
		command.WithTripThreshold(o.MinRequests, o.FailureRatio),
	)
}

func (o *CommandOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutMillis) * time.Millisecond
}
