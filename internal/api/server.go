package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/auth"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/internal/ratelimit"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// JobService 是 API 依赖的任务服务能力。
type JobService interface {
	Submit(ctx context.Context, sessionID string, inputs questionnaire.Inputs) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	GetBySession(ctx context.Context, sessionID string) (*job.Job, error)
	Retry(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, opts ...job.ListOption) ([]*job.Job, error)
	Stats(ctx context.Context, opts ...job.ListOption) (job.Stats, error)
}

// Deps 汇总了 Server 需要的外部组件。
type Deps struct {
	Payments  payment.Gateway
	Jobs      JobService
	Artifacts artifact.Store
	// Limiter 为空时不限制 /api/generate。
	Limiter ratelimit.Limiter
	Admin   *auth.Service
}

// Options 控制 HTTP 行为。
type Options struct {
	Address         string
	PublicURL       string
	StaticDir       string
	MaxBodyBytes    int64
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server 负责暴露 REST 接口。
type Server struct {
	opts   Options
	deps   Deps
	router *chi.Mux
	log    *slog.Logger
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(opts Options, deps Deps) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:   opts,
		deps:   deps,
		router: chi.NewRouter(),
		log:    logger.Named("api"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler 返回根路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	if len(s.opts.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	s.router.Use(limitBody(s.opts.MaxBodyBytes))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/checkout", s.handleCheckout)
		r.Get("/verify", s.handleVerify)
		r.Post("/verify", s.handleVerify)
		r.With(s.rateLimit("generate")).Post("/generate", s.handleGenerate)
		r.Get("/jobs", s.handleJobBySession)
		r.Get("/jobs/{id}", s.handleJobDetail)
		r.Get("/download/{filename}", s.handleDownload)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.deps.Admin.Middleware)
			r.Get("/jobs", s.handleAdminListJobs)
			r.Get("/jobs/stats", s.handleAdminStats)
			r.Post("/jobs/{id}/retry", s.handleAdminRetry)
		})
	})

	if dir := strings.TrimSpace(s.opts.StaticDir); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.router.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			s.log.Warn("静态目录不可用，已跳过", "dir", dir)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", "address", s.opts.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", "error", err)
		}
		s.log.Info("HTTP 服务已停止")
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "shutting_down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
