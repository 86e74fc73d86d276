package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/roomscan/internal/api/middleware"
	"github.com/kiranshivaraju/roomscan/internal/api/response"
	"github.com/rs/cors"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler     http.HandlerFunc
	CreateJobHandler  http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	CancelJobHandler  http.HandlerFunc
	RunStageHandler   http.HandlerFunc
	PreviewHandler    http.HandlerFunc
	SubmitFeedback    http.HandlerFunc
	ListFeedback      http.HandlerFunc
	ConnectHandler    http.HandlerFunc
	DisconnectHandler http.HandlerFunc
	MessageHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes,
// wrapped in the CORS handler.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Post("/api/v1/connections/{connectionID}", orNotImplemented(deps.ConnectHandler))
	r.Delete("/api/v1/connections/{connectionID}", orNotImplemented(deps.DisconnectHandler))

	// Rate limited routes
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		r.Post("/api/v1/jobs/{jobID}/stages/{stage}", orNotImplemented(deps.RunStageHandler))
		r.Post("/api/v1/jobs/{jobID}/feedback", orNotImplemented(deps.SubmitFeedback))
		r.Get("/api/v1/jobs/{jobID}/feedback", orNotImplemented(deps.ListFeedback))

		r.Get("/api/v1/previews/{contentHash}", orNotImplemented(deps.PreviewHandler))

		r.Post("/api/v1/connections/{connectionID}/messages", orNotImplemented(deps.MessageHandler))
	})

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", mw.RequestIDHeader, "X-Correlation-ID"},
		ExposedHeaders: []string{mw.RequestIDHeader, "X-Cache", "X-Job-Status", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}).Handler(r)
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
