package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"go.uber.org/zap"
)

const (
	latestSnapshotFilename = "latest.bin"
	versionsDirname        = "versions"
	versionBinarySuffix    = ".bin"
	versionMetadataSuffix  = ".json"

	corruptedTitlePlaceholder = "Corrupted Document"

	dirPermissions  = 0o755
	filePermissions = 0o644
)

const (
	opStoreNew            = "store.new"
	opReadLatest          = "store.read_latest"
	opWriteLatest         = "store.write_latest"
	opAppendVersion       = "store.append_version"
	opListVersions        = "store.list_versions"
	opReadVersionContent  = "store.read_version_content"
	opDeleteVersion       = "store.delete_version"
	opDeleteDocument      = "store.delete_document"
	opListDocuments       = "store.list_documents"
	fieldDocumentID       = "document_id"
	fieldVersionID        = "version_id"
	fieldPath             = "path"
	reasonMissingRoot     = "missing_root"
	reasonMkdirFailed     = "mkdir_failed"
	reasonReadFailed      = "read_failed"
	reasonWriteFailed     = "write_failed"
	reasonRemoveFailed    = "remove_failed"
	reasonEncodeFailed    = "encode_failed"
	reasonEnumerateFailed = "enumerate_failed"
)

// ErrNotFound indicates that the requested document, version, or version
// artifact does not exist. It is always recoverable by the caller.
var ErrNotFound = errors.New("store: not found")

var errMissingRoot = errors.New("storage root directory is required")

// StoreError carries an "operation.reason" code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// VersionRecord describes the caller-supplied portion of a version: the
// denormalized metadata captured at save time.
type VersionRecord struct {
	Author          string
	Title           string
	SummaryMarkdown string
	Delta           json.RawMessage
}

// Config describes the dependencies of a SnapshotStore.
type Config struct {
	Root   string
	Clock  func() time.Time
	Logger *zap.Logger
}

// SnapshotStore persists one latest binary snapshot and an append-only version
// history per document id, rooted at one storage directory:
//
//	<root>/<id>/latest.bin
//	<root>/<id>/versions/<version-id>.bin
//	<root>/<id>/versions/<version-id>.json
//
// There is no cross-file transaction and no lock: concurrent WriteLatest calls
// for the same id are a last-writer-wins race at this layer. Content-level
// convergence is the replicated document's concern, and only holds when both
// writers started from causally related snapshots.
type SnapshotStore struct {
	root   string
	clock  func() time.Time
	logger *zap.Logger
}

// New constructs a SnapshotStore and ensures the root directory exists.
func New(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, newStoreError(opStoreNew, reasonMissingRoot, errMissingRoot)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Root, dirPermissions); err != nil {
		return nil, newStoreError(opStoreNew, reasonMkdirFailed, err)
	}
	return &SnapshotStore{root: cfg.Root, clock: clock, logger: logger}, nil
}

// ReadLatest returns the latest binary snapshot for the document, or
// ErrNotFound when the document has never been persisted.
func (s *SnapshotStore) ReadLatest(id document.DocumentID) ([]byte, error) {
	snapshot, err := os.ReadFile(s.latestPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(opReadLatest, reasonReadFailed, err, zap.String(fieldDocumentID, id.String()))
		return nil, newStoreError(opReadLatest, reasonReadFailed, err)
	}
	return snapshot, nil
}

// WriteLatest overwrites the latest snapshot, creating the document's storage
// directory when absent. The write goes through a temp file and rename so a
// concurrent reader sees either the previous or the new complete content,
// never a partial write.
func (s *SnapshotStore) WriteLatest(id document.DocumentID, snapshot []byte) error {
	if err := os.MkdirAll(s.documentDir(id), dirPermissions); err != nil {
		s.logError(opWriteLatest, reasonMkdirFailed, err, zap.String(fieldDocumentID, id.String()))
		return newStoreError(opWriteLatest, reasonMkdirFailed, err)
	}
	if err := writeFileAtomic(s.latestPath(id), snapshot); err != nil {
		s.logError(opWriteLatest, reasonWriteFailed, err, zap.String(fieldDocumentID, id.String()))
		return newStoreError(opWriteLatest, reasonWriteFailed, err)
	}
	return nil
}

// AppendVersion stores an immutable version: the full binary snapshot plus the
// structured metadata record, both keyed by the filename-safe quantization of
// the creation timestamp. When the quantized timestamp is already taken, a
// counter suffix is appended so an existing version is never overwritten.
//
// The two files are not written as one atomic pair. Binary first, metadata
// second: a crash between the writes leaves an orphaned binary that the
// metadata-driven listing never surfaces.
func (s *SnapshotStore) AppendVersion(id document.DocumentID, snapshot []byte, record VersionRecord) (document.VersionMetadata, error) {
	versionsDir := s.versionsDir(id)
	if err := os.MkdirAll(versionsDir, dirPermissions); err != nil {
		s.logError(opAppendVersion, reasonMkdirFailed, err, zap.String(fieldDocumentID, id.String()))
		return document.VersionMetadata{}, newStoreError(opAppendVersion, reasonMkdirFailed, err)
	}

	timestamp := document.FormatTimestamp(s.clock())
	versionID := s.claimVersionID(versionsDir, document.QuantizeTimestamp(timestamp))

	delta := record.Delta
	if len(delta) == 0 {
		delta = json.RawMessage("{}")
	}
	metadata := document.VersionMetadata{
		VersionID:       versionID,
		Timestamp:       timestamp,
		Author:          record.Author,
		Title:           record.Title,
		SummaryMarkdown: record.SummaryMarkdown,
		Delta:           delta,
	}

	binaryPath := filepath.Join(versionsDir, versionID+versionBinarySuffix)
	if err := os.WriteFile(binaryPath, snapshot, filePermissions); err != nil {
		s.logError(opAppendVersion, reasonWriteFailed, err,
			zap.String(fieldDocumentID, id.String()),
			zap.String(fieldPath, binaryPath))
		return document.VersionMetadata{}, newStoreError(opAppendVersion, reasonWriteFailed, err)
	}

	encoded, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		s.logError(opAppendVersion, reasonEncodeFailed, err, zap.String(fieldDocumentID, id.String()))
		return document.VersionMetadata{}, newStoreError(opAppendVersion, reasonEncodeFailed, err)
	}
	metadataPath := filepath.Join(versionsDir, versionID+versionMetadataSuffix)
	if err := os.WriteFile(metadataPath, encoded, filePermissions); err != nil {
		s.logError(opAppendVersion, reasonWriteFailed, err,
			zap.String(fieldDocumentID, id.String()),
			zap.String(fieldPath, metadataPath))
		return document.VersionMetadata{}, newStoreError(opAppendVersion, reasonWriteFailed, err)
	}

	return metadata, nil
}

// ListVersions enumerates all version metadata records for the document,
// newest first. A document with no versions yields an empty slice: that is the
// common case for documents only ever autosaved. Records that fail to parse
// are logged and skipped rather than failing the whole listing.
func (s *SnapshotStore) ListVersions(id document.DocumentID) ([]document.VersionMetadata, error) {
	entries, err := os.ReadDir(s.versionsDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return []document.VersionMetadata{}, nil
	}
	if err != nil {
		s.logError(opListVersions, reasonEnumerateFailed, err, zap.String(fieldDocumentID, id.String()))
		return nil, newStoreError(opListVersions, reasonEnumerateFailed, err)
	}

	versions := make([]document.VersionMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, versionMetadataSuffix) {
			continue
		}
		metadata, err := s.readVersionMetadataFile(filepath.Join(s.versionsDir(id), name))
		if err != nil {
			s.logger.Warn("skipping unreadable version metadata",
				zap.String(fieldDocumentID, id.String()),
				zap.String(fieldPath, name),
				zap.Error(err))
			continue
		}
		if metadata.VersionID == "" {
			metadata.VersionID = strings.TrimSuffix(name, versionMetadataSuffix)
		}
		versions = append(versions, metadata)
	}

	sort.Slice(versions, func(i, j int) bool {
		left := document.ParseTimestamp(versions[i].Timestamp)
		right := document.ParseTimestamp(versions[j].Timestamp)
		if left.Equal(right) {
			return versions[i].VersionID > versions[j].VersionID
		}
		return left.After(right)
	})
	return versions, nil
}

// ReadVersionContent returns one stored artifact of a version. For binary the
// snapshot bytes, for delta the structured edit operations as JSON, for
// markdown the rendered text. ErrNotFound covers a missing version as well as
// a present version whose requested artifact is absent.
func (s *SnapshotStore) ReadVersionContent(id document.DocumentID, versionID document.VersionID, format document.ContentFormat) ([]byte, error) {
	metadataPath := filepath.Join(s.versionsDir(id), versionID.String()+versionMetadataSuffix)
	metadata, err := s.readVersionMetadataFile(metadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(opReadVersionContent, reasonReadFailed, err,
			zap.String(fieldDocumentID, id.String()),
			zap.String(fieldVersionID, versionID.String()))
		return nil, newStoreError(opReadVersionContent, reasonReadFailed, err)
	}

	switch format {
	case document.FormatBinary:
		binaryPath := filepath.Join(s.versionsDir(id), versionID.String()+versionBinarySuffix)
		snapshot, err := os.ReadFile(binaryPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			s.logError(opReadVersionContent, reasonReadFailed, err,
				zap.String(fieldDocumentID, id.String()),
				zap.String(fieldVersionID, versionID.String()))
			return nil, newStoreError(opReadVersionContent, reasonReadFailed, err)
		}
		return snapshot, nil
	case document.FormatDelta:
		if len(metadata.Delta) == 0 || string(metadata.Delta) == "null" {
			return nil, ErrNotFound
		}
		return metadata.Delta, nil
	case document.FormatMarkdown:
		if metadata.SummaryMarkdown == "" {
			return nil, ErrNotFound
		}
		return []byte(metadata.SummaryMarkdown), nil
	default:
		return nil, document.ErrInvalidFormat
	}
}

// DeleteVersion removes both artifacts of one version. A single missing file
// is tolerated; only total absence of both reports ErrNotFound. The count of
// files actually removed is returned. Sibling versions are untouched.
func (s *SnapshotStore) DeleteVersion(id document.DocumentID, versionID document.VersionID) (int, error) {
	removed := 0
	for _, suffix := range []string{versionBinarySuffix, versionMetadataSuffix} {
		path := filepath.Join(s.versionsDir(id), versionID.String()+suffix)
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logError(opDeleteVersion, reasonRemoveFailed, err,
				zap.String(fieldDocumentID, id.String()),
				zap.String(fieldVersionID, versionID.String()))
			return removed, newStoreError(opDeleteVersion, reasonRemoveFailed, err)
		}
		removed++
	}
	if removed == 0 {
		return 0, ErrNotFound
	}
	return removed, nil
}

// DeleteDocument removes the document's whole storage subtree: the latest
// snapshot and every version. One logical operation, not a transactional one.
func (s *SnapshotStore) DeleteDocument(id document.DocumentID) error {
	dir := s.documentDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		s.logError(opDeleteDocument, reasonReadFailed, err, zap.String(fieldDocumentID, id.String()))
		return newStoreError(opDeleteDocument, reasonReadFailed, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logError(opDeleteDocument, reasonRemoveFailed, err, zap.String(fieldDocumentID, id.String()))
		return newStoreError(opDeleteDocument, reasonRemoveFailed, err)
	}
	return nil
}

// ListDocuments enumerates every document that has a latest snapshot, newest
// saved_at first. When filter is non-empty, an entry is included only if the
// filter occurs case-insensitively in its title or full text body.
//
// A snapshot that fails to decode is a per-entry failure: the unfiltered
// listing surfaces it as a placeholder flagged Corrupted rather than silently
// dropping the document, and the decode error is logged. Filtered listings
// exclude corrupted entries because neither title nor body is available to
// match against.
func (s *SnapshotStore) ListDocuments(filter string) ([]document.DocumentSummary, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []document.DocumentSummary{}, nil
	}
	if err != nil {
		s.logError(opListDocuments, reasonEnumerateFailed, err)
		return nil, newStoreError(opListDocuments, reasonEnumerateFailed, err)
	}

	needle := strings.ToLower(strings.TrimSpace(filter))
	summaries := make([]document.DocumentSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		docID := entry.Name()
		snapshot, err := os.ReadFile(filepath.Join(s.root, docID, latestSnapshotFilename))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logError(opListDocuments, reasonReadFailed, err, zap.String(fieldDocumentID, docID))
			return nil, newStoreError(opListDocuments, reasonReadFailed, err)
		}

		replicated, err := document.LoadReplicated(snapshot)
		if err != nil {
			s.logger.Error("latest snapshot failed to decode during listing",
				zap.String(fieldDocumentID, docID),
				zap.Error(err))
			if needle == "" {
				summaries = append(summaries, document.DocumentSummary{
					ID:        docID,
					Title:     corruptedTitlePlaceholder,
					Corrupted: true,
				})
			}
			continue
		}

		meta := replicated.Metadata()
		if needle != "" {
			title := strings.ToLower(meta.Title)
			body := strings.ToLower(replicated.BodyText())
			if !strings.Contains(title, needle) && !strings.Contains(body, needle) {
				continue
			}
		}
		summaries = append(summaries, document.DocumentSummary{
			ID:      docID,
			Title:   meta.Title,
			SavedAt: meta.SavedAt,
			SavedBy: meta.SavedBy,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		left := document.ParseTimestamp(summaries[i].SavedAt)
		right := document.ParseTimestamp(summaries[j].SavedAt)
		if left.Equal(right) {
			return summaries[i].ID < summaries[j].ID
		}
		return left.After(right)
	})
	return summaries, nil
}

func (s *SnapshotStore) documentDir(id document.DocumentID) string {
	return filepath.Join(s.root, id.String())
}

func (s *SnapshotStore) latestPath(id document.DocumentID) string {
	return filepath.Join(s.documentDir(id), latestSnapshotFilename)
}

func (s *SnapshotStore) versionsDir(id document.DocumentID) string {
	return filepath.Join(s.documentDir(id), versionsDirname)
}

// claimVersionID appends a counter suffix when the quantized timestamp is
// already taken, so sub-second save bursts never overwrite an earlier version.
func (s *SnapshotStore) claimVersionID(versionsDir, base string) string {
	candidate := base
	for counter := 2; ; counter++ {
		_, err := os.Stat(filepath.Join(versionsDir, candidate+versionMetadataSuffix))
		if errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", base, counter)
	}
}

func (s *SnapshotStore) readVersionMetadataFile(path string) (document.VersionMetadata, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return document.VersionMetadata{}, err
	}
	var metadata document.VersionMetadata
	if err := json.Unmarshal(encoded, &metadata); err != nil {
		return document.VersionMetadata{}, err
	}
	return metadata, nil
}

func (s *SnapshotStore) logError(operation, reason string, err error, fields ...zap.Field) {
	logFields := make([]zap.Field, 0, len(fields)+2)
	logFields = append(logFields, zap.String("operation", operation), zap.String("reason", reason))
	logFields = append(logFields, fields...)
	logFields = append(logFields, zap.Error(err))
	s.logger.Error("snapshot store operation failed", logFields...)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	temp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
