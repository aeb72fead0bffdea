package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// Device-facing, no account.
		api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)
		api.POST("/apps/:app_id/subscriptions", h.Subscribe)
		api.DELETE("/apps/:app_id/subscriptions", h.Unsubscribe)
		api.GET("/feed", h.HandleFeed)
	}

	protected := api.Group("")
	protected.Use(h.AuthMiddleware())
	{
		protected.POST("/push/subscribe-all", h.SubscribeAll)
		protected.POST("/notifications", h.SendNotification)
		protected.GET("/apps/:app_id/subscriptions/count", h.CountSubscriptions)
		protected.DELETE("/apps/:app_id", h.DeleteApp)
	}
}
