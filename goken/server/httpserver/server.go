package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	otelkgin "github.com/hkensame/kdiscovery/goken/server/httpserver/middlewares/otel"
	"github.com/hkensame/kdiscovery/pkg/common/hostgen"
	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 是进程的管理端口,提供/health与/metrics,业务方可以往Engine上追加只读的调试接口
type Server struct {
	Ctx    context.Context
	Engine *gin.Engine
	Host   string
	Mode   string

	Tracer *otelkgin.GinTracer
	//是否开启metrics接口,默认开启,如果开启会自动添加/metrics接口
	EnableMetrics bool
	//返回false时/health返回503,为空时总是健康
	Serving func() bool

	Server *http.Server
	lis    net.Listener
	closed atomic.Bool
}

func MustNewServer(ctx context.Context, host string, opts ...ServerOption) *Server {
	s := &Server{
		Ctx:           ctx,
		Host:          host,
		Mode:          gin.ReleaseMode,
		EnableMetrics: true,
		Server:        &http.Server{ReadHeaderTimeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	gin.SetMode(s.Mode)
	s.Engine = gin.New()
	s.Engine.Use(gin.Recovery())
	if s.Tracer != nil {
		s.Engine.Use(s.Tracer.TraceHandler())
	}

	if ok := hostgen.ValidListenHost(s.Host); !ok {
		panic(errors.Errorf("[httpserver] 无效的监听地址 %s", s.Host))
	}
	s.Server.Handler = s.Engine

	//无论如何都开启/health路径便于健康检查
	s.Engine.GET("/health", func(ctx *gin.Context) {
		if s.Serving != nil && !s.Serving() {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_SERVING"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "SERVING"})
	})
	if s.EnableMetrics {
		s.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return s
}

// Listen 绑定监听地址,Host端口为0时会被改写为实际端口
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.Host)
	if err != nil {
		return errors.Wrapf(err, "[httpserver] 监听%s失败", s.Host)
	}
	s.lis = lis
	s.Host = lis.Addr().String()
	return nil
}

// Shutdown 只有第一次调用生效
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.Server.Shutdown(ctx)
}

// Serve 阻塞运行直到Ctx结束或Shutdown被调用
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	log.Infof("[httpserver] 管理端口启动中,监听信息为: host = %s", s.Host)

	g := &run.Group{}
	g.Add(
		func() error {
			if err := s.Server.Serve(s.lis); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				log.Errorf("[httpserver] 管理端口关闭失败, err= %v", err)
			}
		},
	)
	stop := make(chan struct{})
	g.Add(
		func() error {
			select {
			case <-s.Ctx.Done():
			case <-stop:
			}
			return nil
		},
		func(error) {
			close(stop)
		},
	)
	return g.Run()
}
