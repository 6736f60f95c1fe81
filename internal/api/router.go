package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/ark-warden/internal/api/handlers"
	"github.com/isdelr/ark-warden/internal/commands"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/isdelr/ark-warden/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the router exposes.
type Deps struct {
	Hub            *websocket.Hub
	Table          *commands.Table
	Lifecycle      services.LifecycleServiceProvider
	Backups        services.BackupServiceProvider
	Events         services.EventServiceProvider
	AllowedOrigins []string
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Initialize handlers
	commandHandler := handlers.NewCommandHandler(deps.Table)
	serverHandler := handlers.NewServerHandler(deps.Lifecycle)
	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Lifecycle)
	eventHandler := handlers.NewEventHandler(deps.Events)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.Table, deps.AllowedOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket connection endpoint
		r.Get("/ws", wsHandler.Serve)

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", commandHandler.List)
			r.Post("/{name}", commandHandler.Run)
		})

		r.Route("/server", func(r chi.Router) {
			r.Get("/status", serverHandler.Status)
			r.Get("/players", serverHandler.Players)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", backupHandler.GetAll)
			r.Post("/", backupHandler.Create)
			r.Post("/{backupId}/restore", backupHandler.Restore)
		})

		r.Get("/events", eventHandler.GetRecent)
	})

	return r
}
