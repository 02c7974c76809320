package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
	"github.com/xela07ax/sentinel-gateway/internal/server/handler"
	"go.uber.org/zap"
)

// Handlers — обработчики, из которых собирается роутер. Nil-обработчик
// отключает свою группу маршрутов.
type Handlers struct {
	Gateway    *handler.GatewayHandler
	KillSwitch *handler.KillSwitchHandler
	Audit      *handler.AuditHandler
	Domains    *handler.DomainHandler
	Anomalies  *handler.AnomalyHandler
	Policies   *handler.PolicyHandler
}

// Server — HTTP-поверхность шлюза: вызовы инструментов и админский API /v1.
type Server struct {
	router  *chi.Mux
	h       Handlers
	metrics prometheus.Gatherer
	logger  *zap.Logger

	// Проверка bearer-токена; nil — scopes берутся из X-Caller-Scopes
	authn      func(http.Handler) http.Handler
	adminGuard func(http.Handler) http.Handler
}

type Option func(*Server)

// WithAuth включает проверку токенов: authn на /tool и /v1, admin
// дополнительно на /v1.
func WithAuth(authn, admin func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.authn = authn
		s.adminGuard = admin
	}
}

// New собирает роутер. gatherer == nil — без /metrics.
func New(h Handlers, gatherer prometheus.Gatherer, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		h:       h,
		metrics: gatherer,
		logger:  logger.Named("http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(s.h.Gateway.NotFound)
	r.MethodNotAllowed(s.h.Gateway.NotFound)

	// --- 2. Поверхность шлюза ---
	r.Get("/health", s.h.Gateway.Health)
	r.Get("/tools", s.h.Gateway.Tools)
	r.Get("/capabilities", s.h.Gateway.Capabilities)
	callerScopes := engine.ScopesMiddleware
	if s.authn != nil {
		callerScopes = s.authn
	}
	r.With(callerScopes).Post("/tool", s.h.Gateway.Invoke)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}

	// --- 3. Админский API ---
	r.Route("/v1", func(r chi.Router) {
		if s.authn != nil {
			r.Use(s.authn)
		}
		if s.adminGuard != nil {
			r.Use(s.adminGuard)
		}

		if s.h.Domains != nil {
			r.Route("/domains", func(r chi.Router) {
				r.Get("/", s.h.Domains.List)
				r.Get("/{id}", s.h.Domains.Get)
				r.Post("/{id}/authorize", s.h.Domains.Authorize)
			})
		}

		if s.h.KillSwitch != nil {
			r.Route("/killswitch", func(r chi.Router) {
				r.Get("/", s.h.KillSwitch.List)
				r.Post("/{level}/{target}/activate", s.h.KillSwitch.Activate)
				r.Post("/{level}/{target}/deactivate", s.h.KillSwitch.Deactivate)
			})
		}

		if s.h.Audit != nil {
			r.Route("/audit", func(r chi.Router) {
				r.Get("/", s.h.Audit.Query)
				r.Get("/stats", s.h.Audit.Stats)
				r.Get("/export", s.h.Audit.Export)
			})
		}

		if s.h.Anomalies != nil {
			r.Get("/anomalies", s.h.Anomalies.List)
			r.Get("/anomalies/stats", s.h.Anomalies.Stats)
		}

		if s.h.Policies != nil {
			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.h.Policies.List)
				r.Post("/refresh", s.h.Policies.Refresh)
				r.Put("/{tool}", s.h.Policies.Upsert)
			})
		}
	})
}

// requestLogger — access-лог через zap вместо middleware.Logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", engine.TraceIDFromContext(r.Context())),
		)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
