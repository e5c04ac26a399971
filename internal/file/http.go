package file

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"bucketd/internal/auth"
	"bucketd/internal/bucket"
	"bucketd/internal/metrics"
	"bucketd/internal/quota"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	metrics.InitMetrics()
	handler := &httpHandler{service: service}
	group.POST("/buckets/:bucketName/files", handler.uploadFile)
	group.GET("/buckets/:bucketName/files", handler.listFiles)
	group.GET("/buckets/:bucketName/files/:filename/download", handler.downloadFile)
	group.DELETE("/buckets/:bucketName/files/:filename", handler.deleteFile)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	defer f.Close()

	meta, err := h.service.Upload(
		c.Request.Context(),
		userID,
		c.Param("bucketName"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		f,
		fileHeader.Size,
	)
	if err != nil {
		writeFileError(c, err, "failed to upload file")
		return
	}

	metrics.UploadsTotal.Inc()
	c.JSON(http.StatusCreated, meta)
}

func (h *httpHandler) listFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	list, err := h.service.List(c.Request.Context(), userID, c.Param("bucketName"))
	if err != nil {
		writeFileError(c, err, "failed to list files")
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": list, "count": len(list)})
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	meta, reader, err := h.service.Download(c.Request.Context(), userID, c.Param("bucketName"), c.Param("filename"))
	if err != nil {
		writeFileError(c, err, "failed to download file")
		return
	}
	defer reader.Close()

	c.Header("Content-Type", meta.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	c.Header("Content-Length", fmt.Sprintf("%d", meta.SizeBytes))

	if _, err := io.Copy(c.Writer, reader); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, c.Param("bucketName"), c.Param("filename")); err != nil {
		writeFileError(c, err, "failed to delete file")
		return
	}

	c.Status(http.StatusNoContent)
}

func writeFileError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, bucket.ErrBucketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
	case errors.Is(err, bucket.ErrBucketDeleting):
		c.JSON(http.StatusConflict, gin.H{"error": "bucket is being deleted"})
	case errors.Is(err, ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, ErrFileExists):
		c.JSON(http.StatusConflict, gin.H{"error": "file already exists"})
	case errors.Is(err, ErrInvalidFilename):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
	case errors.Is(err, quota.ErrQuotaExceeded):
		metrics.QuotaRejections.Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "storage quota exceeded"})
	case errors.Is(err, ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure, retry the request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
