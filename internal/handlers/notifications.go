package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/apppush/internal/dispatch"
	"github.com/tariel-x/apppush/internal/tenant"
)

// allApps in app_id targets every app of the caller.
const allApps = "ALL"

type sendRequest struct {
	AppID string `json:"app_id" binding:"required"`
	Title string `json:"title" binding:"required"`
	Body  string `json:"body" binding:"required"`
	Icon  string `json:"icon"`
	Image string `json:"image"`
	URL   string `json:"url"`
}

func (h *Handlers) SendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	userID := currentUserID(c)

	scope := tenant.AllOwnedBy(userID)
	if req.AppID != allApps {
		// Sending to someone else's app is refused; an unknown app simply
		// has nobody to deliver to.
		if _, err := h.service.Authorize(ctx, userID, req.AppID); err != nil && !errors.Is(err, tenant.ErrNotFound) {
			h.writeError(c, err)
			return
		}
		scope = tenant.Scope{AppID: req.AppID, OwnerID: userID}
	}

	result, err := h.service.Dispatch(ctx, dispatch.Request{
		Scope: scope,
		Title: req.Title,
		Body:  req.Body,
		Icon:  req.Icon,
		Image: req.Image,
		URL:   req.URL,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
