package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/apppush/internal/registry"
)

type subscriptionKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// subscribeRequest is the browser's PushSubscription.toJSON().
type subscribeRequest struct {
	Endpoint string           `json:"endpoint" binding:"required"`
	Keys     subscriptionKeys `json:"keys" binding:"required"`
}

func (r subscribeRequest) registryKeys() registry.Keys {
	return registry.Keys{P256DH: r.Keys.P256DH, Auth: r.Keys.Auth}
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"publicKey": h.config.VAPIDKeys.PublicKey,
	})
}

func (h *Handlers) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.service.RegisterSubscription(c.Request.Context(), c.Param("app_id"), req.Endpoint, req.registryKeys())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         sub.ID,
		"app_id":     sub.AppID,
		"endpoint":   sub.Endpoint,
		"created_at": sub.CreatedAt,
		"updated_at": sub.UpdatedAt,
	})
}

func (h *Handlers) Unsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Unsubscribe(c.Request.Context(), c.Param("app_id"), req.Endpoint); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed"})
}

// SubscribeAll registers the caller's device with every app they own.
func (h *Handlers) SubscribeAll(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := h.service.SubscribeAll(c.Request.Context(), currentUserID(c), req.Endpoint, req.registryKeys())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": count})
}

func (h *Handlers) CountSubscriptions(c *gin.Context) {
	appID := c.Param("app_id")
	count, err := h.service.CountSubscriptions(c.Request.Context(), currentUserID(c), appID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "count": count})
}
