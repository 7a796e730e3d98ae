package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	signalTypeActiveDocument    = "ACTIVE_DOCUMENT_ID"
	signalTypeSetActiveDocument = "SET_ACTIVE_DOCUMENT_ID"
)

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type signalMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// handleSignaling serves the active-document side channel over a websocket:
// on connect the client receives the current active document id, then every
// change; SET messages update the shared cell and fan out to all clients.
func (h *httpHandler) handleSignaling(c *gin.Context) {
	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("signaling upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, unsubscribe := h.active.Subscribe(ctx)
	defer unsubscribe()

	go func() {
		defer cancel()
		for {
			select {
			case activeID, ok := <-stream:
				if !ok {
					return
				}
				message := signalMessage{Type: signalTypeActiveDocument, Payload: activeID}
				if err := conn.WriteJSON(message); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var message signalMessage
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		if message.Type != signalTypeSetActiveDocument {
			continue
		}
		payload := strings.TrimSpace(message.Payload)
		if payload == "" {
			continue
		}
		h.active.SetActive(payload)
	}
}
