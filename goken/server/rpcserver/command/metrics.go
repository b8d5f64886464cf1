package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelService = "service"
	labelMethod  = "method"
	labelOutcome = "outcome"
)

// 一次调用的结果
const (
	outcomeSuccess     = "success"
	outcomeTimeout     = "timeout"
	outcomeFailure     = "failure"
	outcomeRejected    = "rejected"
	outcomeBreakerOpen = "breaker_open"
	outcomeCanceled    = "canceled"
)

var (
	commandTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kdiscovery_command_total",
		Help: "按服务,方法与结果统计的Command执行次数",
	}, []string{labelService, labelMethod, labelOutcome})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kdiscovery_command_duration_seconds",
		Help:    "Command从提交到得到结果的耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{labelService, labelOutcome})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kdiscovery_command_breaker_state",
		Help: "服务熔断器的状态, 0闭合 1半开 2打开",
	}, []string{labelService})
)
