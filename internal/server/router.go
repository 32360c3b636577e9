package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/terraconstructs/gatehouse/internal/repository"
	"github.com/terraconstructs/gatehouse/internal/telemetry"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/resource"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// RouterOptions controls the construction of the gatehouse HTTP router.
type RouterOptions struct {
	Dispatcher *resource.Dispatcher
	Sessions   *session.Manager
	Agents     repository.AgentRepository

	// Perspectives gates every secure endpoint.
	Perspectives resource.PerspectivePolicy
	// SigninPerspectives are the perspectives a sign-in may ask for. The
	// first is used when the request names none.
	SigninPerspectives []session.Perspective

	Cookies       credential.CookieHeaders
	CORS          resource.CORSPolicy
	Limiter       *credential.AttemptLimiter
	ClientAddress credential.IPAddressSource
	Metrics       *telemetry.AuthMetrics
	Logger        *zap.Logger

	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, the CORS policy
// and the gatehouse endpoints mounted.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(opts.CORS.Handler())
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	h := &handlers{
		sessions:      opts.Sessions,
		agents:        opts.Agents,
		perspectives:  opts.SigninPerspectives,
		cookies:       opts.Cookies,
		limiter:       opts.Limiter,
		clientAddress: opts.ClientAddress,
		metrics:       opts.Metrics,
		logger:        logger,
	}

	d := opts.Dispatcher
	r.Method(http.MethodPost, "/sessions", d.Open(h.signin))
	r.Method(http.MethodDelete, "/sessions", d.Secure(opts.Perspectives, h.signout))
	r.Method(http.MethodGet, "/agents/me", d.Secure(opts.Perspectives, h.me))
	r.Method(http.MethodGet, "/internal/agents/{id}", d.Internal(h.agentByID))

	health := opts.HealthHandler
	if health == nil {
		health = defaultHealthHandler
	}
	r.Get("/health", health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return r
}

// requestLogger logs each request through zap and counts responses by
// route pattern.
func requestLogger(logger *zap.Logger, metrics *telemetry.AuthMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if metrics != nil {
				metrics.RecordResponse(route, status)
			}
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
