package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dashboard-sync/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dashboard-sync/internal/http/middleware"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Dashboard          *handlers.DashboardHandler
	Live               *handlers.LiveHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Dashboard.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/dashboard", func(dash chi.Router) {
		// The live stream hijacks the connection, so it stays outside Compress.
		if cfg.Live != nil {
			dash.Get("/live", cfg.Live.HandleWebSocket)
		}

		dash.Group(func(api chi.Router) {
			api.Use(middleware.Compress(5))
			api.Get("/conversations", cfg.Dashboard.ListConversations)
			api.Route("/conversations/{conversationID}", func(conv chi.Router) {
				conv.Get("/", cfg.Dashboard.GetConversation)
				conv.Get("/notes", cfg.Dashboard.GetNote)
				conv.Put("/notes", cfg.Dashboard.PutNote)
				conv.Get("/export", cfg.Dashboard.Export)
			})
			api.Post("/refocus", cfg.Dashboard.Refocus)
			api.Post("/invalidate", cfg.Dashboard.Invalidate)
		})
	})

	return r
}
