// Package api exposes the engine over HTTP: tenant start/stop, risk and
// portfolio queries, conditional orders, Prometheus metrics and a websocket
// event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradebot-core/internal/engine"
	"tradebot-core/internal/events"
)

// Server wires HTTP endpoints around the engine service and the event bus.
type Server struct {
	Router   *gin.Engine
	Engine   engine.Service
	Bus      *events.Bus
	Gatherer prometheus.Gatherer
	Log      *zap.Logger

	limiter *ipLimiter
}

// Options tunes the middleware stack.
type Options struct {
	RateLimit      float64       // requests per second per client IP
	RateBurst      int           // burst per client IP
	RequestTimeout time.Duration // deadline attached to every request context
}

// DefaultOptions returns the production middleware settings.
func DefaultOptions() Options {
	return Options{RateLimit: 20, RateBurst: 50, RequestTimeout: 30 * time.Second}
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(svc engine.Service, bus *events.Bus, gatherer prometheus.Gatherer, log *zap.Logger, opts Options) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.RateLimit <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}

	r := gin.New()
	s := &Server{
		Router:   r,
		Engine:   svc,
		Bus:      bus,
		Gatherer: gatherer,
		Log:      log.Named("api"),
		limiter:  newIPLimiter(opts.RateLimit, opts.RateBurst, 5*time.Minute),
	}

	// Middleware stack (order matters!): recovery first, request id before
	// logging, CORS last before routes.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.Log))
	r.Use(RateLimitMiddleware(s.limiter, s.Log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api")
	{
		api.GET("/supervisor", s.getSupervisor)
		api.GET("/system/status", s.getSystemStatus)

		tenants := api.Group("/tenants/:id")
		{
			tenants.POST("/start", s.startTenant)
			tenants.POST("/stop", s.stopTenant)
			tenants.GET("/risk", s.getRiskSnapshot)
			tenants.GET("/risk/assessment", s.getRiskAssessment)
			tenants.GET("/positions", s.getPositions)
			tenants.GET("/trades", s.getTrades)
			tenants.GET("/signals/:symbol", s.getSignal)
			tenants.GET("/orders", s.getOrders)
			tenants.POST("/orders", s.placeOrder)
		}

		api.DELETE("/orders/:orderID", s.cancelOrder)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.Log.Info("http server stopped")
		return nil
	}
}
