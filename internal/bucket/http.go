package bucket

import (
	"net/http"

	"bucketd/internal/auth"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts bucket endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/buckets", handler.createBucket)
	group.GET("/buckets", handler.listBuckets)
	group.GET("/buckets/:bucketName", handler.getBucket)
	group.DELETE("/buckets/:bucketName", handler.deleteBucket)
}

type httpHandler struct {
	service *Service
}

type createBucketRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description" binding:"omitempty,max=255"`
}

func (h *httpHandler) createBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bucket, err := h.service.CreateBucket(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		switch err {
		case ErrBucketNameExists:
			c.JSON(http.StatusConflict, gin.H{"error": "bucket name already exists"})
		case ErrInvalidBucketName:
			c.JSON(http.StatusBadRequest, gin.H{"error": "bucket name can only contain alphanumeric characters, hyphens, and underscores"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bucket"})
		}
		return
	}

	c.JSON(http.StatusCreated, bucket)
}

func (h *httpHandler) listBuckets(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	buckets, err := h.service.ListBuckets(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list buckets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets, "count": len(buckets)})
}

func (h *httpHandler) getBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucket, err := h.service.GetBucket(c.Request.Context(), userID, c.Param("bucketName"))
	if err != nil {
		if err == ErrBucketNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch bucket"})
		return
	}

	c.JSON(http.StatusOK, bucket)
}

func (h *httpHandler) deleteBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.DeleteBucket(c.Request.Context(), userID, c.Param("bucketName")); err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete bucket"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
