package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) DeleteApp(c *gin.Context) {
	if err := h.service.DeleteTenant(c.Request.Context(), currentUserID(c), c.Param("app_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "App deleted"})
}
