package auth

import (
	"encoding/json"
	"net/http"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// Middleware rejects requests without a valid admin token with 401 and
// writes an audit record for every admin call.
func (s *Service) Middleware(next http.Handler) http.Handler {
	audit := logger.Audit()
	if s != nil && s.audit != nil {
		audit = s.audit
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err.Error(),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": xerrors.PublicMessage(err)})
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
		audit.Info("admin_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"user", subject.Name,
		)
	})
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
