// Package httpapi exposes the access check and the project/record CRUD
// endpoints over HTTP. Every response is a JSON envelope carrying "success".
package httpapi

import (
	"net/http"

	"cruiseline/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the API handler.
type Options struct {
	Service *core.Service
	Secrets core.Secrets
	Logger  *zap.Logger
	Metrics *Metrics
}

// API holds the collaborators shared by the handlers.
type API struct {
	service *core.Service
	secrets core.Secrets
	logger  *zap.Logger
	metrics *Metrics
}

// NewAPI validates opts and fills defaults.
func NewAPI(opts Options) *API {
	if opts.Service == nil {
		panic("httpapi.NewAPI: service is nil")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &API{service: opts.Service, secrets: opts.Secrets, logger: opts.Logger, metrics: opts.Metrics}
}

// Metrics returns the collectors the API records into.
func (a *API) Metrics() *Metrics { return a.metrics }

// Routes builds the chi router serving every endpoint.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog(a.logger))
	r.Use(a.metrics.instrument)
	r.Use(recoverer(a.logger))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Status: "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/api/auth", func(sub chi.Router) {
		sub.Use(cors(authMethods))
		sub.MethodNotAllowed(methodNotAllowed)
		sub.Get("/", a.handleAuthReady)
		sub.Post("/", a.handleAuthCheck)
	})
	for _, res := range core.Resources() {
		h := resourceHandler{api: a, res: res}
		r.Route("/api/"+res.Collection, func(sub chi.Router) {
			sub.Use(cors(resourceMethods))
			sub.MethodNotAllowed(methodNotAllowed)
			sub.Get("/", h.get)
			sub.Post("/", h.create)
			sub.Put("/", h.update)
			sub.Delete("/", h.delete)
		})
	}
	return r
}
