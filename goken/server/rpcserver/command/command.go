package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultTimeout 未指定超时时间时单次调用的上限
const DefaultTimeout = time.Second * 3

// InvokeFunc 实际发起一次远程调用
type InvokeFunc func(ctx context.Context, method string, req, reply any) error

type Option func(*Command)

// Command 包装一次远程调用,调用在隔离池中的独立协程里执行,
// 调用方最多等待timeout,超时后立即返回而不等待调用结束;
// Command只能执行一次,不做任何重试
type Command struct {
	service string
	method  string
	req     any
	reply   any
	invoke  InvokeFunc

	timeout   time.Duration
	isolation *Isolation
	callOpts  []grpc.CallOption

	executed atomic.Bool
}

// New 创建对target上method的一次调用,调用成功时结果写入reply
func New(target grpc.ClientConnInterface, method string, req, reply any, opts ...Option) *Command {
	c := newCommand(method, req, reply, nil, opts...)
	c.invoke = func(ctx context.Context, method string, req, reply any) error {
		return target.Invoke(ctx, method, req, reply, c.callOpts...)
	}
	return c
}

// NewFunc 与New相同,但由invoke发起调用
func NewFunc(method string, req, reply any, invoke InvokeFunc, opts ...Option) *Command {
	return newCommand(method, req, reply, invoke, opts...)
}

func newCommand(method string, req, reply any, invoke InvokeFunc, opts ...Option) *Command {
	c := &Command{
		service:   ServiceFromMethod(method),
		method:    method,
		req:       req,
		reply:     reply,
		invoke:    invoke,
		timeout:   DefaultTimeout,
		isolation: DefaultIsolation,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type result struct {
	err error
}

// Execute 执行调用并在timeout内返回:
// 成功时返回reply; 超时返回CodeInvocationTimeout; 调用失败返回CodeInvocationFailure;
// 隔离池已满返回CodeIsolationRejected; 熔断器打开返回CodeBreakerOpen
func (c *Command) Execute(ctx context.Context) (any, error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, errors.WithCode(errors.CodeIllegalUsage, "[command] %s已经执行过", c.method)
	}
	if c.invoke == nil {
		return nil, errors.WithCode(errors.CodeIllegalUsage, "[command] %s没有设置调用方式", c.method)
	}

	start := time.Now()
	p := c.isolation.pool(c.service)
	if !p.sem.TryAcquire(1) {
		c.observe(ctx, outcomeRejected, start)
		return nil, errors.WithCode(errors.CodeIsolationRejected, "[command] 服务%s的隔离池已满", c.service)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.Errorf("%+v\n\n%s", r, strings.TrimSpace(string(debug.Stack())))}
			}
		}()
		_, err := p.cb.Execute(func() (interface{}, error) {
			return nil, c.invoke(callCtx, c.method, c.req, c.reply)
		})
		done <- result{err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return c.finish(ctx, callCtx, res.err, start)
	case <-timer.C:
		c.observe(ctx, outcomeTimeout, start)
		log.WarnfContext(ctx, "[command] 调用%s超过%v未返回", c.method, c.timeout)
		return nil, errors.WithCode(errors.CodeInvocationTimeout, "[command] 调用%s超时(%v)", c.method, c.timeout)
	case <-ctx.Done():
		c.observe(ctx, outcomeCanceled, start)
		return nil, errors.WithCoder(ctx.Err(), errors.CodeCanceled, "[command] 调用"+c.method+"被调用方取消")
	}
}

func (c *Command) finish(ctx, callCtx context.Context, err error, start time.Time) (any, error) {
	switch {
	case err == nil:
		c.observe(ctx, outcomeSuccess, start)
		return c.reply, nil

	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		c.observe(ctx, outcomeBreakerOpen, start)
		return nil, errors.WithCoder(err, errors.CodeBreakerOpen, "[command] 服务"+c.service+"已熔断")

	case ctx.Err() != nil:
		c.observe(ctx, outcomeCanceled, start)
		return nil, errors.WithCoder(ctx.Err(), errors.CodeCanceled, "[command] 调用"+c.method+"被调用方取消")

	// 调用与计时器几乎同时到期,调用先返回了DeadlineExceeded
	case callCtx.Err() == context.DeadlineExceeded && isDeadline(err):
		c.observe(ctx, outcomeTimeout, start)
		return nil, errors.WithCoder(err, errors.CodeInvocationTimeout, fmt.Sprintf("[command] 调用%s超时(%v)", c.method, c.timeout))

	default:
		c.observe(ctx, outcomeFailure, start)
		return nil, errors.WithCoder(err, errors.CodeInvocationFailure, "[command] 调用"+c.method+"失败")
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}

func (c *Command) observe(ctx context.Context, outcome string, start time.Time) {
	cost := time.Since(start)
	commandTotal.WithLabelValues(c.service, c.method, outcome).Inc()
	commandDuration.WithLabelValues(c.service, outcome).Observe(cost.Seconds())
	trace.SpanFromContext(ctx).AddEvent("command", trace.WithAttributes(
		attribute.String("command.service", c.service),
		attribute.String("command.method", c.method),
		attribute.String("command.outcome", outcome),
		attribute.Int64("command.cost_ms", cost.Milliseconds()),
	))
}

func (c *Command) Service() string { return c.service }

func (c *Command) Timeout() time.Duration { return c.timeout }

// ServiceFromMethod 从/package.Service/Method形式的方法名中取出服务名,作为隔离池的key
func ServiceFromMethod(method string) string {
	m := strings.TrimPrefix(method, "/")
	if i := strings.LastIndex(m, "/"); i >= 0 {
		return m[:i]
	}
	return m
}

// WithTimeout 小于等于0时使用DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *Command) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTimeoutMillis 以毫秒设置超时时间
func WithTimeoutMillis(ms int) Option {
	return WithTimeout(time.Duration(ms) * time.Millisecond)
}

func WithIsolation(i *Isolation) Option {
	return func(c *Command) {
		if i != nil {
			c.isolation = i
		}
	}
}

// WithService 指定隔离池的key,默认取方法名中的服务名
func WithService(service string) Option {
	return func(c *Command) {
		if service != "" {
			c.service = service
		}
	}
}

func WithCallOptions(opts ...grpc.CallOption) Option {
	return func(c *Command) {
		c.callOpts = append(c.callOpts, opts...)
	}
}
