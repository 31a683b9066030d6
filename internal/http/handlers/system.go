package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"commune/internal/hub"
	"commune/pkg/logger"
	"commune/pkg/response"
)

type SystemHandler struct {
	DB     *pgxpool.Pool
	RDB    *redis.Client
	Hub    *hub.Hub
	Logger *logger.Logger
}

func NewSystemHandler(db *pgxpool.Pool, rdb *redis.Client, h *hub.Hub, log *logger.Logger) *SystemHandler {
	return &SystemHandler{
		DB:     db,
		RDB:    rdb,
		Hub:    h,
		Logger: log,
	}
}

// HandleHealth checks the API and its dependencies
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		response.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	if err := h.RDB.Ping(ctx).Err(); err != nil {
		response.Error(w, "Redis unhealthy", http.StatusServiceUnavailable)
		return
	}

	response.JSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// HandleStats reports live hub index sizes
func (h *SystemHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.Hub.Stats()

	response.JSON(w, map[string]interface{}{
		"connections": stats.Connections,
		"users":       stats.Users,
		"rooms":       stats.Rooms,
		"timestamp":   time.Now(),
	})
}
