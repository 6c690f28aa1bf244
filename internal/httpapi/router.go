// Package httpapi exposes the matchmaker over HTTP. Caller identity comes
// from the X-User-ID header set by the upstream auth layer.
package httpapi

import (
	"context"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/metrics"
	"github.com/codepair/matchmaker/internal/pairing"
	"github.com/codepair/matchmaker/internal/ratelimit"
	"github.com/codepair/matchmaker/internal/schedule"
	"github.com/codepair/matchmaker/internal/ws"
)

const (
	// HeaderUserID carries the authenticated caller's id.
	HeaderUserID = "X-User-ID"

	// HeaderRateLimitRemaining reports the caller's remaining budget for
	// the rule that guarded the request.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)

// Deps are the collaborators the router serves. Limiter and WS may be nil.
type Deps struct {
	Service   *pairing.Service
	Schedules *schedule.Matrix
	Limiter   *ratelimit.Limiter
	WS        *ws.Server

	// Rebuild requests a schedule matrix rebuild, either cluster-wide or
	// locally.
	Rebuild func(ctx context.Context) error

	ServerName     string
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

type handler struct {
	svc        *pairing.Service
	schedules  *schedule.Matrix
	limiter    *ratelimit.Limiter
	ws         *ws.Server
	rebuild    func(ctx context.Context) error
	serverName string
	startedAt  time.Time
	log        zerolog.Logger
	now        func() time.Time
}

// NewRouter builds the HTTP handler with the standard middleware stack.
func NewRouter(d Deps) http.Handler {
	h := &handler{
		svc:        d.Service,
		schedules:  d.Schedules,
		limiter:    d.Limiter,
		ws:         d.WS,
		rebuild:    d.Rebuild,
		serverName: d.ServerName,
		startedAt:  time.Now(),
		log:        d.Logger.With().Str("component", "http").Logger(),
		now:        time.Now,
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	// The WebSocket route outlives any request timeout.
	r.Get("/ws", h.websocket)

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(timeout))

		api.Group(func(authed chi.Router) {
			authed.Use(identify)
			authed.Get("/affinities", h.affinities)
			authed.Get("/availability-match", h.availabilityMatch)
			authed.Post("/code-now", h.codeNow)
		})

		api.Post("/admin/schedules/rebuild", h.rebuildSchedules)
	})

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", HeaderUserID},
		ExposedHeaders: []string{HeaderRateLimitRemaining, "Retry-After"},
	}).Handler(r)
}

// requestLogger emits one line per request and records its latency under
// the matched route pattern.
func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		metrics.ObserveRequest(route, status, start)

		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
