package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bucketd/internal/auth"
)

// RegisterRoutes mounts the admin endpoints. Callers must already have the
// auth middleware applied; the admin check is layered on top here.
func RegisterRoutes(group *gin.RouterGroup, repo *Repository) {
	handler := &httpHandler{repo: repo}
	adminGroup := group.Group("/admin", auth.RequireAdmin())
	{
		adminGroup.GET("/users", handler.listUsers)
		adminGroup.GET("/stats", handler.stats)
	}
}

type httpHandler struct {
	repo *Repository
}

func (h *httpHandler) listUsers(c *gin.Context) {
	users, err := h.repo.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if users == nil {
		users = []UserSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *httpHandler) stats(c *gin.Context) {
	stats, err := h.repo.ServiceStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
