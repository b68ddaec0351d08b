package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/internal/ratelimit"
)

var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"base-uri 'self'",
	"frame-ancestors 'none'",
	"form-action 'self' https://checkout.stripe.com",
	"img-src 'self' data: https:",
	"style-src 'self' 'unsafe-inline' https:",
	"script-src 'self' https:",
	"connect-src 'self' https:",
	"font-src 'self' data: https:",
	"object-src 'none'",
	"media-src 'self' https:",
	"upgrade-insecure-requests",
}, "; ")

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
		h.Set("X-DNS-Prefetch-Control", "off")
		next.ServeHTTP(w, r)
	})
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessLog 记录访问日志并上报请求指标，路由模板作为指标标签以控制基数。
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed)

		s.log.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimit 按客户端 IP 限流。限流后端故障时放行请求，只记录日志。
func (s *Server) rateLimit(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.deps.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			ip := ratelimit.ClientIP(r)
			ok, err := s.deps.Limiter.Allow(r.Context(), name+":"+ip)
			if err != nil {
				s.log.Warn("限流检查失败，已放行", "ip", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.ObserveRateLimited(name)
				writeError(w, http.StatusTooManyRequests, xerrors.AttributesOf(xerrors.CodeRateLimited).Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
