package document

import (
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
)

// ErrSnapshotDecode indicates that a binary snapshot could not be decoded into
// a replicated document.
var ErrSnapshotDecode = errors.New("document: snapshot decode failed")

const (
	rootKeyMetadata = "metadata"
	rootKeyBody     = "body"

	metadataKeyTitle   = "title"
	metadataKeySavedAt = "saved_at"
	metadataKeySavedBy = "saved_by"
)

// Metadata is the fixed-shape record embedded in every snapshot. All fields are
// optional on read; absent entries decode to empty strings.
type Metadata struct {
	Title   string
	SavedAt string
	SavedBy string
}

// Replicated wraps the conflict-free replicated document. A snapshot produced
// by EncodeState is a complete encoding: loading it into an empty document
// reconstructs full state, and merging it into any causally related document
// is non-destructive.
type Replicated struct {
	doc *automerge.Doc
}

// NewReplicated returns a fresh empty replicated document.
func NewReplicated() *Replicated {
	return &Replicated{doc: automerge.New()}
}

// LoadReplicated decodes a binary snapshot. Failures wrap ErrSnapshotDecode so
// callers can apply their corrupted-snapshot policy.
func LoadReplicated(snapshot []byte) (*Replicated, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotDecode, err)
	}
	return &Replicated{doc: doc}, nil
}

// EncodeState produces the full binary snapshot of the document.
func (r *Replicated) EncodeState() []byte {
	return r.doc.Save()
}

// Merge folds the other document's state into this one.
func (r *Replicated) Merge(other *Replicated) error {
	_, err := r.doc.Merge(other.doc)
	return err
}

// StartSync opens a sync-protocol state bound to this document. The returned
// state is owned by a single transport connection.
func (r *Replicated) StartSync() *automerge.SyncState {
	return automerge.NewSyncState(r.doc)
}

// Metadata reads the embedded metadata map. Missing keys and a missing map
// decode to empty fields; metadata is validated at this read boundary rather
// than trusted as free-form.
func (r *Replicated) Metadata() Metadata {
	return Metadata{
		Title:   r.metadataString(metadataKeyTitle),
		SavedAt: r.metadataString(metadataKeySavedAt),
		SavedBy: r.metadataString(metadataKeySavedBy),
	}
}

// SetMetadata writes the embedded metadata map.
func (r *Replicated) SetMetadata(meta Metadata) error {
	entries := map[string]string{
		metadataKeyTitle:   meta.Title,
		metadataKeySavedAt: meta.SavedAt,
		metadataKeySavedBy: meta.SavedBy,
	}
	for key, value := range entries {
		if err := r.doc.Path(rootKeyMetadata, key).Set(value); err != nil {
			return fmt.Errorf("document: set metadata %s: %w", key, err)
		}
	}
	return nil
}

// BodyText returns the full text body of the document, or an empty string when
// no body has been written yet.
func (r *Replicated) BodyText() string {
	value, err := r.doc.Path(rootKeyBody).Get()
	if err != nil {
		return ""
	}
	switch value.Kind() {
	case automerge.KindText:
		text, err := value.Text().Get()
		if err != nil {
			return ""
		}
		return text
	case automerge.KindStr:
		return value.Str()
	default:
		return ""
	}
}

// SetBody replaces the text body.
func (r *Replicated) SetBody(text string) error {
	if err := r.doc.Path(rootKeyBody).Set(automerge.NewText(text)); err != nil {
		return fmt.Errorf("document: set body: %w", err)
	}
	return nil
}

func (r *Replicated) metadataString(key string) string {
	value, err := r.doc.Path(rootKeyMetadata, key).Get()
	if err != nil {
		return ""
	}
	if value.Kind() != automerge.KindStr {
		return ""
	}
	return value.Str()
}
