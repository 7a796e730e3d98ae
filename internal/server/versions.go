package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const markdownContentType = "text/markdown; charset=utf-8"

type versionStatePayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	rawID := c.Query("id")
	if rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_document_id"})
		return
	}
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	versions, err := h.store.ListVersions(id)
	if err != nil {
		h.logger.Error("listing versions failed", zap.String("document_id", id.String()), zap.Error(err))
		h.storeErrorResponse(c, err, "list_versions_failed")
		return
	}
	c.JSON(http.StatusOK, versions)
}

// handleVersionContent serves one stored artifact of a version, dispatched on
// the format parameter. The timestamp parameter accepts either the raw
// ISO-8601 form or the stored filename-safe version id.
func (h *httpHandler) handleVersionContent(c *gin.Context) {
	rawID := c.Query("id")
	rawTimestamp := c.Query("timestamp")
	rawFormat := c.Query("format")
	if rawID == "" || rawTimestamp == "" || rawFormat == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_parameters"})
		return
	}
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}
	versionID, err := document.NewVersionID(rawTimestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
		return
	}
	format, err := document.ParseContentFormat(rawFormat)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format"})
		return
	}

	content, err := h.store.ReadVersionContent(id, versionID, format)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_content_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("reading version content failed",
			zap.String("document_id", id.String()),
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		h.storeErrorResponse(c, err, "read_version_failed")
		return
	}

	switch format {
	case document.FormatBinary:
		c.JSON(http.StatusOK, versionStatePayload{
			ID:        id.String(),
			Timestamp: versionID.String(),
			State:     base64.StdEncoding.EncodeToString(content),
		})
	case document.FormatDelta:
		c.Data(http.StatusOK, "application/json", content)
	case document.FormatMarkdown:
		c.Data(http.StatusOK, markdownContentType, content)
	}
}

func (h *httpHandler) handleDeleteVersion(c *gin.Context) {
	rawID := c.Query("id")
	rawTimestamp := c.Query("timestamp")
	if rawID == "" || rawTimestamp == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_parameters"})
		return
	}
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}
	versionID, err := document.NewVersionID(rawTimestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
		return
	}

	filesDeleted, err := h.store.DeleteVersion(id, versionID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("deleting version failed",
			zap.String("document_id", id.String()),
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		h.storeErrorResponse(c, err, "delete_version_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("Version %s deleted", versionID.String()),
		"files_deleted": filesDeleted,
	})
}
