package rpcserver

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/goken/registry/discover"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver/cinterceptors"
	"github.com/hkensame/kdiscovery/goken/server/rpcserver/command"
	"github.com/hkensame/kdiscovery/pkg/errors"

	"google.golang.org/grpc"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	RoundRobin string = "round_robin"
	PickFirst  string = "pick_first"
)

type ClientOption func(o *Client)

// Client 服务调用方,设置了Builder时通过服务发现得到地址,
// 默认为每次unary调用套上Command(超时与按服务隔离)
type Client struct {
	Ctx context.Context
	//要连接的端点
	Endpoint *url.URL
	//服务发现,为空时直接连接Endpoint.Host
	Builder    *discover.Builder
	UnaryInts  []grpc.UnaryClientInterceptor
	StreamInts []grpc.StreamClientInterceptor
	GrpcOpts   []grpc.DialOption
	//用于grpc的负载均衡
	BalanceModel  string
	EnableTracing bool
	Insecure      bool

	EnableCommand  bool
	CommandTimeout time.Duration
	Isolation      *command.Isolation
	MethodTimeouts []command.MethodTimeoutConf

	mu     sync.Mutex
	client *grpc.ClientConn
}

// MustNewClient target为discovery://注册中心地址/服务名?参数 或者直接是ip:port
func MustNewClient(ctx context.Context, target string, opts ...ClientOption) *Client {
	c := &Client{
		BalanceModel:   RoundRobin,
		EnableTracing:  false,
		Ctx:            ctx,
		Insecure:       true,
		EnableCommand:  true,
		CommandTimeout: command.DefaultTimeout,
		Isolation:      command.DefaultIsolation,
	}

	if !strings.Contains(target, "://") {
		target = "grpc://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	c.Endpoint = u

	for _, o := range opts {
		o(c)
	}

	ints := make([]grpc.UnaryClientInterceptor, 0, len(c.UnaryInts)+2)
	if c.EnableTracing {
		ints = append(ints, cinterceptors.UnaryTracingInterceptor)
	}
	if c.EnableCommand {
		ints = append(ints, command.UnaryCommandInterceptor(c.Isolation, c.CommandTimeout, c.MethodTimeouts...))
	}
	ints = append(ints, c.UnaryInts...)

	c.GrpcOpts = append(c.GrpcOpts, grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy": "`+c.BalanceModel+`"}`))
	c.GrpcOpts = append(c.GrpcOpts, grpc.WithChainUnaryInterceptor(ints...))
	c.GrpcOpts = append(c.GrpcOpts, grpc.WithChainStreamInterceptor(c.StreamInts...))

	if c.Builder != nil {
		c.Endpoint.Scheme = c.Builder.Scheme()
		c.GrpcOpts = append(c.GrpcOpts, grpc.WithResolvers(c.Builder))
	}

	if c.Insecure {
		c.GrpcOpts = append(c.GrpcOpts, grpc.WithTransportCredentials(grpcinsecure.NewCredentials()))
	}
	return c
}

func (c *Client) CtxWithMetadata(md metadata.MD) context.Context {
	return metadata.NewOutgoingContext(c.Ctx, md)
}

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Client) Dial() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	target := c.Endpoint.Host
	if c.Builder != nil {
		target = c.Endpoint.String()
	}
	conn, err := grpc.NewClient(target, c.GrpcOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "[rpcserver] 连接%s失败", target)
	}
	c.client = conn
	return conn, nil
}

// Command 在Client的连接上创建一次独立的Command调用,
// 适用于没有开启Command拦截器或需要单独指定超时的场景
func (c *Client) Command(method string, req, reply any, opts ...command.Option) (*command.Command, error) {
	conn, err := c.Dial()
	if err != nil {
		return nil, err
	}
	opts = append([]command.Option{command.WithIsolation(c.Isolation), command.WithTimeout(c.CommandTimeout)}, opts...)
	return command.New(conn, method, req, reply, opts...), nil
}

func WithEnableTracing(on bool) ClientOption {
	return func(o *Client) {
		o.EnableTracing = on
	}
}

func WithSercure(on bool) ClientOption {
	return func(o *Client) {
		o.Insecure = !on
	}
}

// 设置服务发现
func WithBuilder(b *discover.Builder) ClientOption {
	return func(o *Client) {
		o.Builder = b
	}
}

// WithDiscover 使用固定的注册中心做服务发现,desc为nil时target的path即服务名
func WithDiscover(reg registry.Registry, desc *registry.Descriptor, opts ...discover.BuilderOption) ClientOption {
	return func(o *Client) {
		opts = append([]discover.BuilderOption{discover.WithRegistry(reg)}, opts...)
		o.Builder = discover.MustNewBuilder(desc, opts...)
	}
}

// WithCommand 设置每次调用的超时与隔离池,iso为nil时使用command.DefaultIsolation
func WithCommand(timeout time.Duration, iso *command.Isolation, methodTimeouts ...command.MethodTimeoutConf) ClientOption {
	return func(o *Client) {
		o.EnableCommand = true
		if timeout > 0 {
			o.CommandTimeout = timeout
		}
		if iso != nil {
			o.Isolation = iso
		}
		o.MethodTimeouts = append(o.MethodTimeouts, methodTimeouts...)
	}
}

func WithoutCommand() ClientOption {
	return func(o *Client) {
		o.EnableCommand = false
	}
}

// 设置拦截器
func WithClientUnaryInterceptor(in ...grpc.UnaryClientInterceptor) ClientOption {
	return func(o *Client) {
		o.UnaryInts = append(o.UnaryInts, in...)
	}
}

// 设置stream拦截器
func WithClientStreamInterceptor(in ...grpc.StreamClientInterceptor) ClientOption {
	return func(o *Client) {
		o.StreamInts = append(o.StreamInts, in...)
	}
}

// 设置grpc的dial选项
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *Client) {
		o.GrpcOpts = append(o.GrpcOpts, opts...)
	}
}

// 设置负载均衡器
func WithBalanceModel(model string) ClientOption {
	return func(o *Client) {
		switch model {
		case RoundRobin, PickFirst:
			o.BalanceModel = model
		default:
			o.BalanceModel = RoundRobin
		}
	}
}
