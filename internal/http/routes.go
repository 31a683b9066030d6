package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"commune/internal/config"
	"commune/internal/http/handlers"
	"commune/internal/hub"
	mw "commune/internal/middleware"
	"commune/internal/store"
	"commune/pkg/logger"
)

type Server struct {
	DB       *pgxpool.Pool
	RDB      *redis.Client
	Hub      *hub.Hub
	Config   *config.Config
	Logger   *logger.Logger
	Validate *validator.Validate

	// Handlers
	System        *handlers.SystemHandler
	Notifications *handlers.NotificationsHandler
	Sessions      *handlers.SessionsHandler
}

func NewServer(db *pgxpool.Pool, rdb *redis.Client, h *hub.Hub, st *store.Postgres, sessions *store.RedisSessions, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		DB:       db,
		RDB:      rdb,
		Hub:      h,
		Config:   cfg,
		Logger:   log,
		Validate: validator.New(),
	}

	s.System = handlers.NewSystemHandler(db, rdb, h, log)
	s.Notifications = handlers.NewNotificationsHandler(h, st, log, s.Validate)
	s.Sessions = handlers.NewSessionsHandler(sessions, cfg, log, s.Validate)

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger(s.Logger))
	r.Use(mw.Recovery(s.Logger))
	r.Use(mw.Security())
	r.Use(mw.CORS(s.Config.CORS))
	r.Use(mw.RateLimit(s.RDB, s.Config.RateLimit))
	r.Use(mw.LimitRequestSize(1024 * 1024))

	r.Route("/api", func(r chi.Router) {
		// System routes
		r.Get("/health", s.System.HandleHealth)
		r.Get("/stats", s.System.HandleStats)
		r.Method(http.MethodGet, "/metrics", s.Hub.Metrics().Handler())

		// Realtime gateway. The hub owns exactly this one path; every other
		// route, upgrade-based or not, is dispatched elsewhere by the router.
		r.Get("/ws", s.Hub.HandleWebSocket)

		// Internal collaborator surface, called by the CRUD layer after it
		// persists state.
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.Config.JWT.Secret))

			r.Get("/communities/{communityID}/online", s.Notifications.HandleGetOnlineUsers)

			r.Post("/sessions", s.Sessions.HandleCreateSession)

			r.Group(func(r chi.Router) {
				r.Use(mw.ContentType("application/json"))
				r.Delete("/sessions", s.Sessions.HandleRevokeSession)
				r.Post("/notifications/users/{userID}", s.Notifications.HandleNotifyUser)
				r.Post("/notifications/communities/{communityID}", s.Notifications.HandleNotifyCommunity)
				r.Put("/communities/{communityID}/messages/{messageID}/pin", s.Notifications.HandlePinMessage)
				r.Delete("/communities/{communityID}/messages/{messageID}", s.Notifications.HandleDeleteMessage)
			})
		})
	})

	return r
}
