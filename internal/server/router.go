package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"github.com/QuillpadLabs/quillpad/backend/internal/session"
	"github.com/QuillpadLabs/quillpad/backend/internal/signaling"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("snapshot store dependency required")
	errMissingSessionHost = errors.New("session host dependency required")
	errMissingSignalHub   = errors.New("active document hub dependency required")
)

// Dependencies collects everything the HTTP surface delegates to. The handler
// owns no state itself; it translates requests into snapshot store operations
// and hands live connections to the session host and the signaling hub.
type Dependencies struct {
	Store           *store.SnapshotStore
	Sessions        *session.Host
	ActiveDocuments *signaling.ActiveDocumentHub
	IDProvider      document.IDProvider
	Logger          *zap.Logger
}

// NewHTTPHandler wires the document API, the sync endpoint, and the signaling
// endpoint onto one router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionHost
	}
	if deps.ActiveDocuments == nil {
		return nil, errMissingSignalHub
	}

	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = document.NewUUIDProvider()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		store:      deps.Store,
		sessions:   deps.Sessions,
		active:     deps.ActiveDocuments,
		idProvider: idProvider,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	router.GET("/documents", handler.handleGetDocuments)
	router.POST("/documents", handler.handleSaveDocument)
	router.DELETE("/documents", handler.handleDeleteDocument)
	router.GET("/documents/versions", handler.handleListVersions)
	router.DELETE("/documents/versions", handler.handleDeleteVersion)
	router.GET("/documents/version-content", handler.handleVersionContent)

	router.GET("/sync/:id", handler.handleSync)
	router.GET("/signaling", handler.handleSignaling)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	store      *store.SnapshotStore
	sessions   *session.Host
	active     *signaling.ActiveDocumentHub
	idProvider document.IDProvider
	logger     *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	h.sessions.HandleConnection(c.Writer, c.Request, c.Param("id"))
}

// storeErrorResponse maps a snapshot store failure onto the error taxonomy:
// everything that is not NotFound is an I/O failure surfaced as 500, with the
// store's operation.reason code attached for operators.
func (h *httpHandler) storeErrorResponse(c *gin.Context, err error, fallback string) {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback, "code": storeErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
