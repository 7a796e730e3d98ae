package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// isoMillisLayout renders timestamps the way the browser clients do:
// millisecond precision, always UTC, trailing Z.
const isoMillisLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty, too long,
	// or unsafe to use as a storage directory name.
	ErrInvalidDocumentID = errors.New("document: invalid document id")
	// ErrInvalidVersionID indicates that a version identifier is empty or contains
	// characters outside the filename-safe alphabet.
	ErrInvalidVersionID = errors.New("document: invalid version id")
	// ErrInvalidFormat indicates an unknown version content format.
	ErrInvalidFormat = errors.New("document: invalid content format")
)

var timestampQuantizer = strings.NewReplacer(":", "_", ".", "_", "-", "_")

// DocumentID represents a validated document identifier. Identifiers double as
// storage directory names, so path separators and dot-prefixed names are rejected.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return "", fmt.Errorf("%w: contains path separator", ErrInvalidDocumentID)
	}
	if strings.HasPrefix(trimmed, ".") {
		return "", fmt.Errorf("%w: leading dot", ErrInvalidDocumentID)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// VersionID represents a validated version identifier: the filename-safe
// quantization of the version's creation timestamp, optionally carrying a
// uniqueness counter suffix.
type VersionID string

// NewVersionID quantizes raw input into the filename-safe form and validates it.
// Passing an already-quantized identifier is idempotent, so callers may supply
// either the raw ISO-8601 timestamp or the stored version id.
func NewVersionID(rawInput string) (VersionID, error) {
	quantized := QuantizeTimestamp(strings.TrimSpace(rawInput))
	if quantized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVersionID)
	}
	if len(quantized) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVersionID, maxIdentifierLength)
	}
	for _, r := range quantized {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '_':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidVersionID, r)
		}
	}
	return VersionID(quantized), nil
}

// String returns the underlying string identifier.
func (id VersionID) String() string {
	return string(id)
}

// QuantizeTimestamp converts an ISO-8601 timestamp into its filename-safe form
// by replacing ':', '.' and '-' with '_'.
func QuantizeTimestamp(timestamp string) string {
	return timestampQuantizer.Replace(timestamp)
}

// FormatTimestamp renders a time in the millisecond-precision ISO-8601 form
// shared with the browser clients.
func FormatTimestamp(at time.Time) string {
	return at.UTC().Format(isoMillisLayout)
}

// ParseTimestamp parses the stored ISO-8601 form back into a time. A zero time
// is returned when the value does not parse; version ordering treats such
// records as oldest rather than failing the listing.
func ParseTimestamp(timestamp string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// VersionMetadata is the structured record stored alongside every version
// snapshot, and the shape returned by the versions API.
type VersionMetadata struct {
	VersionID       string          `json:"version_id"`
	Timestamp       string          `json:"timestamp"`
	Author          string          `json:"author"`
	Title           string          `json:"title"`
	SummaryMarkdown string          `json:"summary_markdown"`
	Delta           json.RawMessage `json:"delta"`
}

// DocumentSummary is one entry of the document listing: the identifier plus the
// metadata decoded from the latest snapshot. Corrupted marks entries whose
// snapshot could not be decoded; their metadata fields carry placeholders.
type DocumentSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SavedAt   string `json:"saved_at"`
	SavedBy   string `json:"saved_by"`
	Corrupted bool   `json:"corrupted,omitempty"`
}

// ContentFormat selects which stored artifact of a version to retrieve.
type ContentFormat string

const (
	// FormatBinary selects the full CRDT snapshot.
	FormatBinary ContentFormat = "binary"
	// FormatDelta selects the editor-native structured edit operations.
	FormatDelta ContentFormat = "delta"
	// FormatMarkdown selects the rendered markdown summary.
	FormatMarkdown ContentFormat = "markdown"
)

// ParseContentFormat validates a raw format parameter.
func ParseContentFormat(rawInput string) (ContentFormat, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(FormatBinary):
		return FormatBinary, nil
	case string(FormatDelta):
		return FormatDelta, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, rawInput)
	}
}
