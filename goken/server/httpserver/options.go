package httpserver

import (
	"net/http"

	otelkgin "github.com/hkensame/kdiscovery/goken/server/httpserver/middlewares/otel"

	"github.com/gin-gonic/gin"
)

type ServerOption func(*Server)

func WithMode(mode string) ServerOption {
	return func(s *Server) {
		switch mode {
		case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
			s.Mode = mode
		}
	}
}

func WithEnableMetrics(enable bool) ServerOption {
	return func(s *Server) {
		s.EnableMetrics = enable
	}
}

func WithTracer(opts ...otelkgin.GinTracerOption) ServerOption {
	return func(s *Server) {
		s.Tracer = otelkgin.MustNewGinTracer(s.Ctx, opts...)
	}
}

func WithServing(serving func() bool) ServerOption {
	return func(s *Server) {
		s.Serving = serving
	}
}

func WithHTTPServer(server *http.Server) ServerOption {
	return func(s *Server) {
		s.Server = server
	}
}
