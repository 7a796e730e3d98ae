package signaling

import (
	"context"
	"sync"
)

// DefaultActiveDocumentID is the topic's initial value before any session has
// claimed the foreground.
const DefaultActiveDocumentID = "index"

// ActiveDocumentHub is a pub/sub topic carrying the identifier of the document
// currently in the foreground across editor sessions. It holds exactly one
// current value; subscribers receive that value immediately and every change
// afterwards. The hub is deliberately decoupled from persistence: it never
// touches the snapshot store.
type ActiveDocumentHub struct {
	mu          sync.RWMutex
	current     string
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan string
}

// NewActiveDocumentHub constructs a hub seeded with the provided document id.
// An empty initial value falls back to DefaultActiveDocumentID.
func NewActiveDocumentHub(initial string) *ActiveDocumentHub {
	if initial == "" {
		initial = DefaultActiveDocumentID
	}
	return &ActiveDocumentHub{
		current:     initial,
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Current returns the active document id.
func (h *ActiveDocumentHub) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// SetActive updates the current-value cell and broadcasts the new id to every
// subscriber. Slow subscribers with a full buffer miss the intermediate value;
// they still converge on the next one they drain.
func (h *ActiveDocumentHub) SetActive(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	h.current = id
	streams := make([]chan string, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		streams = append(streams, sub.stream)
	}
	h.mu.Unlock()

	for _, stream := range streams {
		select {
		case stream <- id:
		default:
		}
	}
}

// Subscribe registers a listener. The returned channel immediately carries the
// current value, then every subsequent change. The cleanup function removes
// the subscription; it is also invoked when the context is cancelled.
func (h *ActiveDocumentHub) Subscribe(ctx context.Context) (<-chan string, func()) {
	sub := &subscriber{stream: make(chan string, h.bufferSize)}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subscribers[sub.id] = sub
	sub.stream <- h.current
	h.mu.Unlock()

	cleanup := func() {
		h.mu.Lock()
		delete(h.subscribers, sub.id)
		h.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}
