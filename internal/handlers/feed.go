package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleFeed upgrades to a websocket that streams the caller's dispatch
// summaries. Browsers cannot set headers on websocket requests, so the
// token travels in the query string.
func (h *Handlers) HandleFeed(c *gin.Context) {
	userID, err := parseToken(h.config.JWTSecret, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Feed upgrade failed", "user_id", userID, "error", err)
		return
	}
	h.feed.Serve(conn, userID)
}
