package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ruralpay/payqueue/internal/metrics"
	"github.com/ruralpay/payqueue/internal/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the operator API, /health and /metrics.
func NewRouter(h *TransferHandler, m *metrics.Metrics, jwtSecret string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret))

		r.Post("/transfers", h.CreateTransfer)
		r.Get("/transfers/{txId}", h.GetTransfer)
		r.Post("/transfers/{txId}/cancel", h.CancelTransfer)
		r.Get("/accounts/{accountId}", h.GetAccount)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator)

			r.Post("/transfers/{txId}/complete", h.CompleteTransfer)
			r.Post("/transfers/{txId}/fail", h.FailTransfer)
			r.Post("/operator/process-next", h.ProcessNext)
			r.Get("/queue", h.Queue)
			r.Get("/holds", h.Holds)
			r.Post("/admin/accounts", h.CreateAccount)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("[HTTP] Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
