package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultPersistInterval = 2 * time.Second

const fieldDocumentID = "document_id"

var errMissingStore = errors.New("session: snapshot store is required")

// Config describes the dependencies of a Host.
type Config struct {
	Store           *store.SnapshotStore
	Logger          *zap.Logger
	PersistInterval time.Duration
}

// Host runs one live editing session per document id. Each session holds the
// authoritative in-memory replicated document; websocket peers converge on it
// through the sync protocol. Sessions load their document through the snapshot
// store on first join and persist it on a periodic schedule while peers are
// connected, plus once more when the last peer leaves.
//
// Both hooks degrade instead of propagating failures: a snapshot that cannot
// be decoded yields a fresh empty document (availability over consistency —
// prior content is lost for the live session, which is why the decode error is
// logged loudly), and a failed persist is logged and retried on the next tick.
type Host struct {
	store           *store.SnapshotStore
	logger          *zap.Logger
	persistInterval time.Duration
	upgrader        websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*liveSession

	done      chan struct{}
	closeOnce sync.Once
}

type liveSession struct {
	id    document.DocumentID
	mu    sync.Mutex
	doc   *document.Replicated
	dirty bool
	peers map[*peer]struct{}
}

type peer struct {
	conn      *websocket.Conn
	syncState *automerge.SyncState
	wake      chan struct{}
}

// NewHost constructs the session host and starts its persistence loop.
func NewHost(cfg Config) (*Host, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PersistInterval
	if interval <= 0 {
		interval = defaultPersistInterval
	}
	host := &Host{
		store:           cfg.Store,
		logger:          logger,
		persistInterval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*liveSession),
		done:     make(chan struct{}),
	}
	go host.runPersistLoop()
	return host, nil
}

// HandleConnection upgrades the request to a websocket and joins the peer to
// the live session for the named document. Blocks until the peer disconnects.
func (h *Host) HandleConnection(writer http.ResponseWriter, request *http.Request, rawID string) {
	id, err := document.NewDocumentID(rawID)
	if err != nil {
		http.Error(writer, "invalid document id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String(fieldDocumentID, id.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	sess := h.acquireSession(id)
	p := &peer{
		conn: conn,
		wake: make(chan struct{}, 1),
	}
	sess.mu.Lock()
	p.syncState = sess.doc.StartSync()
	sess.peers[p] = struct{}{}
	sess.mu.Unlock()

	h.servePeer(request.Context(), sess, p)

	if h.releasePeer(sess, p) {
		h.persistSession(sess)
	}
}

// Shutdown stops the persistence loop and flushes every dirty session.
func (h *Host) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	sessions := make([]*liveSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.persistSession(sess)
	}
	return nil
}

// acquireSession returns the live session for the id, loading the document on
// first join. This is the store hook for session start: a missing snapshot
// yields a fresh document, and a corrupted one falls back to a fresh document
// with the decode failure logged.
func (h *Host) acquireSession(id document.DocumentID) *liveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sess, ok := h.sessions[id.String()]; ok {
		return sess
	}
	sess := &liveSession{
		id:    id,
		doc:   h.loadDocument(id),
		peers: make(map[*peer]struct{}),
	}
	h.sessions[id.String()] = sess
	return sess
}

func (h *Host) loadDocument(id document.DocumentID) *document.Replicated {
	snapshot, err := h.store.ReadLatest(id)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("no persisted snapshot, starting empty session", zap.String(fieldDocumentID, id.String()))
		return document.NewReplicated()
	}
	if err != nil {
		h.logger.Error("reading latest snapshot failed, starting empty session",
			zap.String(fieldDocumentID, id.String()), zap.Error(err))
		return document.NewReplicated()
	}
	replicated, err := document.LoadReplicated(snapshot)
	if err != nil {
		h.logger.Error("latest snapshot is corrupted, starting empty session",
			zap.String(fieldDocumentID, id.String()),
			zap.Int("snapshot_bytes", len(snapshot)),
			zap.Error(err))
		return document.NewReplicated()
	}
	return replicated
}

// persistSession is the store hook for persistence. Safe to call arbitrarily
// often: a clean session is a no-op, and failures are logged and left dirty
// for the next invocation.
func (h *Host) persistSession(sess *liveSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.dirty {
		return
	}
	if err := h.store.WriteLatest(sess.id, sess.doc.EncodeState()); err != nil {
		h.logger.Error("persisting session snapshot failed", zap.String(fieldDocumentID, sess.id.String()), zap.Error(err))
		return
	}
	sess.dirty = false
	h.logger.Debug("session snapshot persisted", zap.String(fieldDocumentID, sess.id.String()))
}

// releasePeer detaches the peer and reports whether it was the session's last,
// in which case the session is retired from the registry.
func (h *Host) releasePeer(sess *liveSession, p *peer) bool {
	sess.mu.Lock()
	delete(sess.peers, p)
	last := len(sess.peers) == 0
	sess.mu.Unlock()

	if last {
		h.mu.Lock()
		if current, ok := h.sessions[sess.id.String()]; ok && current == sess {
			delete(h.sessions, sess.id.String())
		}
		h.mu.Unlock()
	}
	return last
}

func (h *Host) runPersistLoop() {
	ticker := time.NewTicker(h.persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			sessions := make([]*liveSession, 0, len(h.sessions))
			for _, sess := range h.sessions {
				sessions = append(sessions, sess)
			}
			h.mu.Unlock()
			for _, sess := range sessions {
				h.persistSession(sess)
			}
		case <-h.done:
			return
		}
	}
}
