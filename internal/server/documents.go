package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultDocumentTitle = "Untitled Document"
	defaultAuthorName    = "Unknown"
)

type saveDocumentPayload struct {
	ID              string          `json:"id"`
	State           string          `json:"state"`
	Delta           json.RawMessage `json:"delta"`
	MarkdownSummary string          `json:"markdownSummary"`
	UserName        string          `json:"userName"`
	DocumentTitle   string          `json:"documentTitle"`
}

type documentStatePayload struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// handleGetDocuments serves both shapes of GET /documents: with an id it
// returns the latest snapshot, without one it lists documents, optionally
// filtered by the title parameter against title and body text.
func (h *httpHandler) handleGetDocuments(c *gin.Context) {
	rawID := c.Query("id")
	if rawID != "" {
		h.fetchLatestDocument(c, rawID)
		return
	}

	summaries, err := h.store.ListDocuments(c.Query("title"))
	if err != nil {
		h.logger.Error("listing documents failed", zap.Error(err))
		h.storeErrorResponse(c, err, "list_failed")
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) fetchLatestDocument(c *gin.Context, rawID string) {
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	snapshot, err := h.store.ReadLatest(id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("reading latest snapshot failed", zap.String("document_id", id.String()), zap.Error(err))
		h.storeErrorResponse(c, err, "read_failed")
		return
	}

	// A snapshot that cannot be decoded must not be handed out as if it were
	// a usable document: the requester would mistake it for a brand-new empty
	// one. Surface the corruption instead.
	if _, err := document.LoadReplicated(snapshot); err != nil {
		h.logger.Error("latest snapshot is corrupted", zap.String("document_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "document_corrupted"})
		return
	}

	c.JSON(http.StatusOK, documentStatePayload{
		ID:    id.String(),
		State: base64.StdEncoding.EncodeToString(snapshot),
	})
}

// handleSaveDocument is the explicit-save path: it always overwrites the
// latest snapshot AND appends a new version carrying the denormalized
// metadata, the editor-native delta, and the rendered markdown.
func (h *httpHandler) handleSaveDocument(c *gin.Context) {
	var payload saveDocumentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(payload.State) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_state"})
		return
	}
	snapshot, err := base64.StdEncoding.DecodeString(payload.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}

	rawID := payload.ID
	if strings.TrimSpace(rawID) == "" {
		minted, err := h.idProvider.NewID()
		if err != nil {
			h.logger.Error("minting document id failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "id_generation_failed"})
			return
		}
		rawID = minted
	}
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	title := payload.DocumentTitle
	if strings.TrimSpace(title) == "" {
		title = defaultDocumentTitle
		h.logger.Warn("document title not provided, using default", zap.String("document_id", id.String()))
	}
	author := payload.UserName
	if strings.TrimSpace(author) == "" {
		author = defaultAuthorName
		h.logger.Warn("user name not provided, using default", zap.String("document_id", id.String()))
	}

	if err := h.store.WriteLatest(id, snapshot); err != nil {
		h.logger.Error("writing latest snapshot failed", zap.String("document_id", id.String()), zap.Error(err))
		h.storeErrorResponse(c, err, "save_failed")
		return
	}
	version, err := h.store.AppendVersion(id, snapshot, store.VersionRecord{
		Author:          author,
		Title:           title,
		SummaryMarkdown: payload.MarkdownSummary,
		Delta:           payload.Delta,
	})
	if err != nil {
		h.logger.Error("appending version failed", zap.String("document_id", id.String()), zap.Error(err))
		h.storeErrorResponse(c, err, "save_failed")
		return
	}

	h.logger.Info("document saved",
		zap.String("document_id", id.String()),
		zap.String("version_id", version.VersionID),
		zap.String("title", title),
		zap.String("author", author))
	c.JSON(http.StatusOK, gin.H{"id": id.String()})
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
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

	err = h.store.DeleteDocument(id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("deleting document failed", zap.String("document_id", id.String()), zap.Error(err))
		h.storeErrorResponse(c, err, "delete_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Document %s and its versions deleted successfully", id.String()),
	})
}
