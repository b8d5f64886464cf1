package command

import (
	"context"
	"sync"
	"time"

	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Isolation 按服务划分的调用隔离池,每个服务拥有独立的并发上限与熔断器,
// 一个服务的调用被卡住时不会占用其他服务的资源
type Isolation struct {
	//每个服务同时在途的调用数上限,池满时直接拒绝而不是排队
	maxConcurrent int64
	//熔断器半开状态下放行的请求数
	halfOpenRequests uint32
	//闭合状态下统计周期,为0时不清空统计
	interval time.Duration
	//熔断器打开后多久进入半开状态
	openTimeout time.Duration
	//统计周期内请求数达到minRequests且失败率达到failureRatio时熔断
	minRequests  uint32
	failureRatio float64

	mu    sync.Mutex
	pools map[string]*pool
}

type pool struct {
	sem *semaphore.Weighted
	cb  *gobreaker.CircuitBreaker
}

type IsolationOption func(*Isolation)

// DefaultIsolation 未显式指定时所有Command共用的隔离池
var DefaultIsolation = MustNewIsolation()

func MustNewIsolation(opts ...IsolationOption) *Isolation {
	i := &Isolation{
		maxConcurrent:    10,
		halfOpenRequests: 1,
		interval:         time.Second * 10,
		openTimeout:      time.Second * 5,
		minRequests:      20,
		failureRatio:     0.5,
		pools:            make(map[string]*pool),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.maxConcurrent <= 0 {
		panic("[command] 隔离池的并发上限必须大于0")
	}
	return i
}

func (i *Isolation) pool(service string) *pool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.pools[service]; ok {
		return p
	}
	p := &pool{
		sem: semaphore.NewWeighted(i.maxConcurrent),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        service,
			MaxRequests: i.halfOpenRequests,
			Interval:    i.interval,
			Timeout:     i.openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < i.minRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= i.failureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("[command] 服务%s的熔断器状态由%s变为%s", name, from, to)
				breakerState.WithLabelValues(name).Set(float64(to))
			},
			IsSuccessful: isSuccessful,
		}),
	}
	i.pools[service] = p
	return p
}

// 调用方主动取消不算作目标服务的失败,grpc的Invoke会把ctx取消转换为codes.Canceled
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled
}

// State 返回服务当前的熔断器状态
func (i *Isolation) State(service string) gobreaker.State {
	return i.pool(service).cb.State()
}

func WithMaxConcurrent(n int64) IsolationOption {
	return func(i *Isolation) {
		i.maxConcurrent = n
	}
}

func WithHalfOpenRequests(n uint32) IsolationOption {
	return func(i *Isolation) {
		i.halfOpenRequests = n
	}
}

func WithBreakerInterval(d time.Duration) IsolationOption {
	return func(i *Isolation) {
		i.interval = d
	}
}

func WithOpenTimeout(d time.Duration) IsolationOption {
	return func(i *Isolation) {
		i.openTimeout = d
	}
}

// WithTripThreshold 统计周期内至少minRequests次调用且失败率不低于ratio时熔断
func WithTripThreshold(minRequests uint32, ratio float64) IsolationOption {
	return func(i *Isolation) {
		i.minRequests = minRequests
		i.failureRatio = ratio
	}
}
