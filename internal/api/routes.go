// Package api serves a configuration center over HTTP: a JSON REST surface
// for items and groups, a websocket stream of change events, and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"configcenter/internal/configcenter"
	"configcenter/internal/event"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
)

type RouterOptions struct {
	Config         ConfigCenter
	Events         *event.Bus[configcenter.ConfigChangedEvent]
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
	// PublishRate limits publish and remove requests per second; zero
	// disables the limit.
	PublishRate  float64
	PublishBurst int
}

func NewRouter(options RouterOptions) http.Handler {
	var limiter *rate.Limiter
	if options.PublishRate > 0 {
		burst := options.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.PublishRate), burst)
	}
	rest := &RestHandler{
		Config:         options.Config,
		Logger:         options.Logger,
		Metrics:        options.Metrics,
		PublishLimiter: limiter,
	}
	token := options.AuthToken
	write := func(handler apiHandler) http.HandlerFunc {
		return restHandler(token, rateLimitMiddleware(rest.PublishLimiter, handler))
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(loggingMiddleware(options.Logger))

	r.Get("/api/status", restHandler(token, rest.handleStatus))
	r.Get("/api/groups", restHandler(token, rest.handleGroups))
	r.Get("/api/configs", restHandler(token, rest.handleConfigs))
	r.Get("/api/groups/{group}/configs", restHandler(token, rest.handleKeys))
	r.Get("/api/groups/{group}/configs/{key}", restHandler(token, rest.handleGetConfig))
	r.Put("/api/groups/{group}/configs/{key}", write(rest.handlePublish))
	r.Delete("/api/groups/{group}/configs/{key}", write(rest.handleRemove))
	r.Get("/api/logs", restHandler(token, rest.handleLogs))
	r.Method(http.MethodGet, "/api/events", &ConfigEventsHandler{
		Bus:            options.Events,
		AuthToken:      token,
		AllowedOrigins: options.AllowedOrigins,
		Logger:         options.Logger,
	})
	r.Get("/metrics", rest.handleMetrics)

	r.NotFound(restHandler("", func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}))
	r.MethodNotAllowed(restHandler("", func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
	}))
	return r
}
