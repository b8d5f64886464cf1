package rpcserver

import (
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver/sinterceptors"
	"github.com/hkensame/kdiscovery/pkg/common/hostgen"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type ServerOption func(o *Server)

// Server 是服务提供方,启动时把自身注册到注册中心,退出时先注销再优雅关闭
type Server struct {
	*grpc.Server
	//如果lis不为空就使用传入的lis作为地址,否则默认使用tcp与host构成lis
	Host       string
	UnaryInts  []grpc.UnaryServerInterceptor
	StreamInts []grpc.StreamServerInterceptor
	GrpcOpts   []grpc.ServerOption
	Lis        net.Listener
	Ctx        context.Context

	Registor registry.Registor
	Health   *health.Server
	Instance *registry.ServiceInstance

	EnableTracing bool

	draining       atomic.Bool
	deregisterOnce sync.Once
}

var ErrNilRpcRegistor = errors.New("该rpc服务不存在注册器")

func (s *Server) listen() error {
	if s.Lis != nil {
		s.Host = s.Lis.Addr().String()
		return nil
	}
	//检查并获得合适的地址用于服务注册
	addr, err := hostgen.ResolveHost(s.Host)
	if err != nil {
		return err
	}
	s.Host = addr
	s.Lis, err = net.Listen("tcp", s.Host)
	return err
}

func MustNewServer(ctx context.Context, opts ...ServerOption) *Server {
	s := &Server{
		Host:     "127.0.0.1:0",
		Health:   health.NewServer(),
		Ctx:      ctx,
		Instance: new(registry.ServiceInstance),
	}
	s.UnaryInts = []grpc.UnaryServerInterceptor{sinterceptors.HealthCheckInterceptor(func() bool {
		return !s.draining.Load()
	})}
	for _, v := range opts {
		v(s)
	}

	if err := s.listen(); err != nil {
		panic(err)
	}

	if s.Instance.Name == "" {
		s.Instance.Name = s.Host
	}
	// 未指定实例ID时以服务名加uuid区分同一服务的不同实例
	if s.Instance.ID == "" {
		ud, _ := uuid.NewV7()
		s.Instance.ID = s.Instance.Name + "-" + ud.String()
	}
	s.Instance.Endpoints = append(s.Instance.Endpoints, &url.URL{Scheme: "grpc", Host: s.Host})

	if s.EnableTracing {
		s.UnaryInts = append(s.UnaryInts, sinterceptors.UnaryTracingInterceptor)
	}
	s.GrpcOpts = append(s.GrpcOpts, grpc.ChainUnaryInterceptor(s.UnaryInts...))
	s.GrpcOpts = append(s.GrpcOpts, grpc.ChainStreamInterceptor(s.StreamInts...))
	s.Server = grpc.NewServer(s.GrpcOpts...)

	grpc_health_v1.RegisterHealthServer(s.Server, s.Health)
	//用于在运行时暴露gRPC服务的元数据信息,使得客户端能够在没有事先了解服务定义的情况下动态地查询服务和方法
	reflection.Register(s.Server)
	return s
}

func (s *Server) Register(ctx context.Context, ins *registry.ServiceInstance) error {
	if s.Registor == nil {
		return ErrNilRpcRegistor
	}
	return s.Registor.Register(ctx, ins)
}

// Deregister会注销Server内Instance存储的服务Id,只有第一次调用生效
func (s *Server) Deregister(ctx context.Context) error {
	if s.Registor == nil {
		return ErrNilRpcRegistor
	}
	var err error
	s.deregisterOnce.Do(func() {
		err = s.Registor.Deregister(ctx, s.Instance.ID)
	})
	return err
}

// Serving 开始关闭之后返回false
func (s *Server) Serving() bool {
	return !s.draining.Load()
}

// shutdown 先让健康检查失败并从注册中心注销,再等待在途请求结束
func (s *Server) shutdown() {
	s.draining.Store(true)
	s.Health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Deregister(ctx); err != nil && err != ErrNilRpcRegistor {
		log.Errorf("[rpcserver] 服务注销失败, err= %v", err)
	} else {
		log.Infof("[rpcserver] 服务%s正常注销", s.Instance.ID)
	}
	s.Server.GracefulStop()
}

// Serve 阻塞运行直到收到SIGINT/SIGTERM或者Ctx结束
func (s *Server) Serve() error {
	log.Infof("[rpcserver] 服务启动中,监听信息为: host = %s,服务信息为: msg = %+v", s.Host, s.Instance)
	//如果注册器为空就不进行注册而不是返回错误
	if err := s.Register(s.Ctx, s.Instance); err != nil && err != ErrNilRpcRegistor {
		return err
	}

	g := &run.Group{}
	var once sync.Once
	g.Add(
		func() error {
			if err := s.Server.Serve(s.Lis); err != nil {
				log.Errorf("[rpcserver] 服务运行出错, err= %v", err)
				return err
			}
			return nil
		},
		func(error) {
			once.Do(s.shutdown)
		},
	)
	g.Add(run.SignalHandler(s.Ctx, syscall.SIGTERM, syscall.SIGINT))

	err := g.Run()
	var sigErr run.SignalError
	if err == nil || errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func WithHost(host string) ServerOption {
	return func(o *Server) {
		o.Host = host
	}
}

func WithTimeout(timeout time.Duration) ServerOption {
	return func(o *Server) {
		o.UnaryInts = append(o.UnaryInts, sinterceptors.UnaryTimeoutInterceptor(timeout))
	}
}

func WithListener(lis net.Listener) ServerOption {
	return func(o *Server) {
		o.Lis = lis
	}
}

func WithUnaryInts(ui ...grpc.UnaryServerInterceptor) ServerOption {
	return func(o *Server) {
		o.UnaryInts = append(o.UnaryInts, ui...)
	}
}

func WithSteamInts(sui ...grpc.StreamServerInterceptor) ServerOption {
	return func(o *Server) {
		o.StreamInts = append(o.StreamInts, sui...)
	}
}

func WithGrpcOptions(opts ...grpc.ServerOption) ServerOption {
	return func(o *Server) {
		o.GrpcOpts = opts
	}
}

func WithRegistor(r registry.Registor) ServerOption {
	return func(o *Server) {
		o.Registor = r
	}
}

func WithServiceName(name string) ServerOption {
	return func(o *Server) {
		o.Instance.Name = name
	}
}

func WithServiceID(id string) ServerOption {
	return func(o *Server) {
		o.Instance.ID = id
	}
}

func WithVersion(v string) ServerOption {
	return func(o *Server) {
		o.Instance.Version = v
	}
}

func WithMetadata(md map[string]string) ServerOption {
	return func(o *Server) {
		o.Instance.Metadata = md
	}
}

func WithServerTracing(on bool) ServerOption {
	return func(o *Server) {
		o.EnableTracing = on
	}
}
