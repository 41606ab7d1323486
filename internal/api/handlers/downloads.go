package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/clipforge/internal/core"
	"github.com/clipforge/clipforge/internal/storage"
)

type DownloadHandler struct {
	downloads *core.DownloadManager
	storage   storage.Store
}

func NewDownloadHandler(downloads *core.DownloadManager, st storage.Store) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		storage:   st,
	}
}

func (h *DownloadHandler) GetDownload(c *gin.Context) {
	dl, err := h.downloads.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	c.JSON(http.StatusOK, dl)
}

func (h *DownloadHandler) RetryDownload(c *gin.Context) {
	id := c.Param("id")

	err := h.downloads.RetryDownload(id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "pending"})
	case errors.Is(err, core.ErrDownloadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDownloadExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDownloadNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ServeAsset streams a stored artifact. Asset names carry no extension;
// the kind suffix decides the content type.
func (h *DownloadHandler) ServeAsset(c *gin.Context) {
	batch := c.Param("batch")
	name := c.Param("name")

	reader, err := h.storage.Open(c.Request.Context(), batch+"/"+name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	defer reader.Close()

	c.Header("Content-Type", assetContentType(name))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

func assetContentType(name string) string {
	switch {
	case strings.HasSuffix(name, "_thumbnail"), strings.HasSuffix(name, "_filmstrip"):
		return "image/png"
	default:
		return "video/mp4"
	}
}
