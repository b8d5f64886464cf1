package main

import (
	"context"
	"net/http"
	"syscall"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/registry/discover"
	"github.com/hkensame/kdiscovery/goken/registry/ways/consul"
	"github.com/hkensame/kdiscovery/goken/server/httpserver"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"
	ktrace "github.com/hkensame/kdiscovery/pkg/trace"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/consul/api"
	"github.com/oklog/run"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func newConsulClient(o ConsulOptions) (*api.Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = o.Address
	cfg.Datacenter = o.Datacenter
	cfg.Token = o.Token
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.WithCoder(err, errors.CodeRegistryUnavailable, "[kdiscovery] 创建consul客户端失败")
	}
	return cli, nil
}

// Run 按照配置以provider或consumer模式运行,直到ctx结束或收到退出信号
func Run(ctx context.Context, opts *Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.Trace.Enable {
		tp, err := ktrace.MustNewTracer(ctx,
			ktrace.WithName(opts.Service),
			ktrace.WithSampler(opts.Trace.Sampler),
		).NewTraceProvider(opts.Trace.Endpoint)
		if err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := tp.Shutdown(sctx); err != nil {
				log.Errorf("[kdiscovery] 关闭TraceProvider失败, err= %v", err)
			}
		}()
	}

	cli, err := newConsulClient(opts.Consul)
	if err != nil {
		return err
	}

	g := &run.Group{}
	var admin *httpserver.Server
	if opts.Admin.Host != "" {
		adminOpts := []httpserver.ServerOption{httpserver.WithEnableMetrics(opts.Admin.EnableMetrics)}
		if opts.Trace.Enable {
			adminOpts = append(adminOpts, httpserver.WithTracer())
		}
		admin = httpserver.MustNewServer(ctx, opts.Admin.Host, adminOpts...)
	}

	switch opts.Mode {
	case ModeProvider:
		s := newProvider(ctx, cli, opts)
		if admin != nil {
			admin.Serving = s.Serving
		}
		g.Add(s.Serve, func(error) { cancel() })
	case ModeConsumer:
		reg := consul.MustNewConsulRegistry(cli,
			consul.WithWaitTime(opts.Consul.WaitTime),
			consul.WithQueryRate(opts.Consul.QueryRate),
			consul.WithPassingOnly(opts.Consul.PassingOnly),
			consul.WithMaxTries(opts.Consul.MaxTries),
		)
		desc := registry.NewDescriptor("grpc", opts.Service, 0, opts.Consumer.Params)
		c := newConsumer(ctx, reg, desc, opts)
		if admin != nil {
			admin.Engine.GET("/discovery", discoveryHandler(reg, desc))
		}
		g.Add(func() error { return probeLoop(ctx, c, opts.Consumer.Interval) }, func(error) { cancel() })
	default:
		return errors.WithCode(errors.CodeIllegalUsage, "[kdiscovery] 未知的运行模式%q", opts.Mode)
	}

	if admin != nil {
		g.Add(admin.Serve, func(error) {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = admin.Shutdown(sctx)
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Infof("[kdiscovery] 收到信号%v,进程退出", sigErr.Signal)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newProvider(ctx context.Context, cli *api.Client, opts *Options) *rpcserver.Server {
	p := opts.Provider
	registorOpts := []consul.RegistorOption{
		consul.WithEnableHealthCheck(p.HealthCheck),
		consul.WithHeartBeat(p.HeartBeat),
	}
	if p.TTL != "" {
		registorOpts = append(registorOpts, consul.WithTTLtimeout(p.TTL))
	}
	serverOpts := []rpcserver.ServerOption{
		rpcserver.WithHost(p.Host),
		rpcserver.WithRegistor(consul.MustNewConsulRegistor(cli, registorOpts...)),
		rpcserver.WithServiceName(opts.Service),
		rpcserver.WithVersion(p.Version),
		rpcserver.WithMetadata(p.Metadata),
		rpcserver.WithServerTracing(opts.Trace.Enable),
	}
	if p.ID != "" {
		serverOpts = append(serverOpts, rpcserver.WithServiceID(p.ID))
	}
	if p.Timeout > 0 {
		serverOpts = append(serverOpts, rpcserver.WithTimeout(p.Timeout))
	}
	return rpcserver.MustNewServer(ctx, serverOpts...)
}

func newConsumer(ctx context.Context, reg registry.Registry, desc *registry.Descriptor, opts *Options) *rpcserver.Client {
	clientOpts := []rpcserver.ClientOption{
		rpcserver.WithDiscover(reg, desc,
			discover.WithResolveTimeout(opts.Resolver.ResolveTimeout),
			discover.WithRefreshInterval(opts.Resolver.RefreshInterval),
		),
		rpcserver.WithBalanceModel(opts.Consumer.Balance),
		rpcserver.WithEnableTracing(opts.Trace.Enable),
	}
	if opts.Command.Enable {
		clientOpts = append(clientOpts, rpcserver.WithCommand(opts.Command.Timeout(), opts.Command.Isolation()))
	} else {
		clientOpts = append(clientOpts, rpcserver.WithoutCommand())
	}
	return rpcserver.MustNewClient(ctx, discover.DefaultScheme+"://"+opts.Consul.Address+"/"+opts.Service, clientOpts...)
}

// probeLoop 每隔interval对provider发起一次健康检查调用,直到ctx结束
func probeLoop(ctx context.Context, c *rpcserver.Client, interval time.Duration) error {
	conn, err := c.Dial()
	if err != nil {
		return err
	}
	defer c.Reset()
	hc := grpc_health_v1.NewHealthClient(conn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		resp, err := hc.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WarnfContext(ctx, "[kdiscovery] 调用provider失败, code= %s, err= %v", status.Code(err), err)
			continue
		}
		log.Debugf("[kdiscovery] provider状态: %s", resp.GetStatus())
	}
}

// discoveryHandler 直接查询一次注册中心,返回当前的实例列表
func discoveryHandler(reg registry.Registry, desc *registry.Descriptor) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		records, err := reg.Discover(ctx.Request.Context(), desc)
		if err != nil {
			code := http.StatusInternalServerError
			if coder := errors.ExtractCoderFromError(err); coder != nil {
				code = coder.HTTPCode()
			}
			ctx.JSON(code, gin.H{"service": desc.ServiceName(), "error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"service": desc.ServiceName(), "records": records})
	}
}
