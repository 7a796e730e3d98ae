package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writePollInterval bounds how stale a peer can get when it missed a wake
// signal; the sync protocol makes redundant polls cheap no-ops.
const writePollInterval = time.Second

// servePeer runs the two halves of the sync conversation until the connection
// drops: a read pump applying incoming sync messages to the session document,
// and a write pump draining outgoing sync messages generated against it.
// All sync-state operations run under the session lock because every peer's
// sync state is bound to the one shared document.
func (h *Host) servePeer(ctx context.Context, sess *liveSession, p *peer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readPump(sess, p)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.conn.Close()
		h.writePump(ctx, sess, p)
	}()

	wg.Wait()
}

func (h *Host) readPump(sess *liveSession, p *peer) {
	for {
		messageType, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("sync read failed", zap.String(fieldDocumentID, sess.id.String()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		sess.mu.Lock()
		_, err = p.syncState.ReceiveMessage(payload)
		if err == nil {
			sess.dirty = true
		}
		peers := make([]*peer, 0, len(sess.peers))
		for other := range sess.peers {
			peers = append(peers, other)
		}
		sess.mu.Unlock()

		if err != nil {
			h.logger.Warn("dropping malformed sync message",
				zap.String(fieldDocumentID, sess.id.String()), zap.Error(err))
			continue
		}
		for _, other := range peers {
			select {
			case other.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Host) writePump(ctx context.Context, sess *liveSession, p *peer) {
	if err := h.drainOutgoing(sess, p); err != nil {
		return
	}

	ticker := time.NewTicker(writePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.wake:
		case <-ticker.C:
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
		if err := h.drainOutgoing(sess, p); err != nil {
			return
		}
	}
}

func (h *Host) drainOutgoing(sess *liveSession, p *peer) error {
	for {
		sess.mu.Lock()
		message, valid := p.syncState.GenerateMessage()
		sess.mu.Unlock()
		if !valid {
			return nil
		}
		if err := p.conn.WriteMessage(websocket.BinaryMessage, message.Bytes()); err != nil {
			h.logger.Warn("sync write failed", zap.String(fieldDocumentID, sess.id.String()), zap.Error(err))
			return err
		}
	}
}
