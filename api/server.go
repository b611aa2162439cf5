/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. hlog:       Request-scoped zerolog logger and access log
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a local frontend

ROUTE GROUPS:
  /api/workbook         Loaded workbook summary
  /api/consumers/*      Consumer listing and per-consumer binding
  /api/settlements/*    Settlement-wide bind and unbind
  /api/auto-bind        Bulk auto-binding
  /api/search/*         Organization search and bind
  /api/pipelines/*      Pipelines and their loads
  /api/grs              GRS reference list
  /api/loads/*          Load recalculation
  /api/locations/*      Districts, settlements, pipeline IDs
  /api/checks/*         Consistency checks
  /api/changes/*        Pending changes, commit, discard, revert
  /api/journal/*        Committed history
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication. The server is meant to listen on localhost for a
  single operator.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouterConfig carries the router settings taken from configuration.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(cfg.Logger.With().Str("component", "api").Logger()))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/workbook", h.GetWorkbook)

		// Consumer routes
		r.Route("/consumers", func(r chi.Router) {
			r.Get("/", h.ListConsumers)
			r.Get("/{id}", h.GetConsumer)
			r.Post("/{id}/bind", h.BindConsumer)
			r.Put("/{id}/bindings", h.EditShares)
			r.Delete("/{id}/bindings", h.UnbindConsumer)
			r.Delete("/{id}/bindings/{pipelineID}", h.RemovePipelineBinding)
			r.Get("/{id}/history", h.GetHistory)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Post("/bind", h.BindSettlement)
			r.Post("/unbind", h.UnbindSettlement)
		})

		r.Post("/auto-bind", h.AutoBind)

		// Search routes
		r.Route("/search", func(r chi.Router) {
			r.Get("/organizations", h.SearchOrganizations)
			r.Post("/organizations/bind", h.BindSearch)
		})

		// Pipeline routes
		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", h.ListPipelines)
			r.Get("/{id}", h.GetPipeline)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Get("/grs", h.ListGRS)
		r.Post("/loads/calculate", h.CalculateLoads)

		// Location routes
		r.Route("/locations", func(r chi.Router) {
			r.Get("/districts", h.ListDistricts)
			r.Get("/settlements", h.ListSettlements)
			r.Get("/pipelines", h.ListPipelineIDs)
		})

		// Check routes
		r.Route("/checks", func(r chi.Router) {
			r.Get("/", h.CheckAll)
			r.Get("/unbound-pipelines", h.CheckUnboundPipelines)
			r.Get("/unbound-consumers", h.CheckUnboundConsumers)
			r.Get("/no-expenses", h.CheckWithoutExpenses)
			r.Get("/grs-mismatches", h.CheckGRSMismatches)
			r.Get("/shares", h.CheckShares)
		})

		// Pending change routes
		r.Route("/changes", func(r chi.Router) {
			r.Get("/", h.ListChanges)
			r.Post("/commit", h.Commit)
			r.Post("/discard", h.Discard)
			r.Post("/{id}/revert", h.RevertChange)
		})

		r.Get("/journal/commits", h.ListCommits)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
