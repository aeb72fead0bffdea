package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/apppush/internal/config"
	"github.com/tariel-x/apppush/internal/notifier"
	"github.com/tariel-x/apppush/internal/registry"
	"github.com/tariel-x/apppush/internal/tenant"
	feed "github.com/tariel-x/apppush/internal/websocket"
)

type Handlers struct {
	config     *config.Config
	service    *notifier.Service
	feed       *feed.Hub
	wsUpgrader websocket.Upgrader
	logger     *slog.Logger
}

func New(cfg *config.Config, service *notifier.Service, hub *feed.Hub, upgrader websocket.Upgrader, logger *slog.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		service:    service,
		feed:       hub,
		wsUpgrader: upgrader,
		logger:     logger.With("component", "http"),
	}
}

// writeError maps service errors onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenant.ErrNotAuthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, notifier.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "App belongs to another user"})
	case errors.Is(err, tenant.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
	case errors.Is(err, notifier.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrUnavailable), errors.Is(err, tenant.ErrUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
