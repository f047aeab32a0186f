package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RichardoC/alfred/internal/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	StaticDir      string
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// NewRouter mounts the handler's endpoints on a chi router.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(accessLog(h.logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.Health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/command", h.HandleCommand)
		r.Post("/generate", h.HandleCommand)
		r.Post("/execute", h.HandleExecute)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.GetConversations)
			r.Post("/", h.CreateConversation)
			r.Get("/{id}", h.GetConversation)
			r.Put("/{id}", h.UpdateConversation)
			r.Patch("/{id}", h.UpdateConversation)
			r.Delete("/{id}", h.DeleteConversation)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", h.GetMessages)
			r.Post("/", h.CreateMessage)
			r.Get("/{id}", h.GetMessage)
			r.Put("/{id}", h.UpdateMessage)
			r.Patch("/{id}", h.UpdateMessage)
			r.Delete("/{id}", h.DeleteMessage)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return r
}

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one zap line per request and feeds the HTTP collectors.
func accessLog(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			if m != nil {
				m.RecordHTTPRequest(r.Method, route, status, elapsed)
			}
			logger.Info("Handled request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
