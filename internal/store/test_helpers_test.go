package store

import (
	"testing"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
)

// tickingClock hands out strictly increasing timestamps one second apart so
// tests get deterministic version ordering.
type tickingClock struct {
	current time.Time
	step    time.Duration
}

func newTickingClock(start time.Time, step time.Duration) *tickingClock {
	return &tickingClock{current: start, step: step}
}

func (c *tickingClock) Now() time.Time {
	at := c.current
	c.current = c.current.Add(c.step)
	return at
}

func mustStore(testContext *testing.T, clock func() time.Time) *SnapshotStore {
	testContext.Helper()
	snapshotStore, err := New(Config{Root: testContext.TempDir(), Clock: clock})
	if err != nil {
		testContext.Fatalf("new snapshot store: %v", err)
	}
	return snapshotStore
}

func mustDocumentID(testContext *testing.T, raw string) document.DocumentID {
	testContext.Helper()
	id, err := document.NewDocumentID(raw)
	if err != nil {
		testContext.Fatalf("new document id %q: %v", raw, err)
	}
	return id
}

func mustVersionID(testContext *testing.T, raw string) document.VersionID {
	testContext.Helper()
	id, err := document.NewVersionID(raw)
	if err != nil {
		testContext.Fatalf("new version id %q: %v", raw, err)
	}
	return id
}

func mustSnapshot(testContext *testing.T, title, savedAt, savedBy, body string) []byte {
	testContext.Helper()
	replicated := document.NewReplicated()
	err := replicated.SetMetadata(document.Metadata{Title: title, SavedAt: savedAt, SavedBy: savedBy})
	if err != nil {
		testContext.Fatalf("set metadata: %v", err)
	}
	if err := replicated.SetBody(body); err != nil {
		testContext.Fatalf("set body: %v", err)
	}
	return replicated.EncodeState()
}
