package state

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

// snapshotNamespace scopes the name-based snapshot UUIDs.
var snapshotNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/goliatone/go-docstore/snapshot"))

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Size       int64             `json:"size,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Backend reads and writes whole encoded documents.
type Backend interface {
	// Read returns the stored bytes for key. ok is false when nothing is
	// stored; that is not an error.
	Read(ctx context.Context, key string) (data []byte, meta Meta, ok bool, err error)
	// Write replaces the document stored under key. When meta.ETag is set
	// it must match the stored document's ETag.
	Write(ctx context.Context, key string, data []byte, meta Meta) (Meta, error)
	// Stat reports metadata for key without returning the document.
	Stat(ctx context.Context, key string) (meta Meta, ok bool, err error)
}

// Fingerprint returns the ETag of data.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SnapshotIDFor derives the snapshot identifier for an ETag.
func SnapshotIDFor(etag string) string {
	if etag == "" {
		return ""
	}
	return uuid.NewSHA1(snapshotNamespace, []byte(etag)).String()
}

// describe fills the content-derived fields of meta for data.
func describe(data []byte, meta Meta) Meta {
	meta.ETag = Fingerprint(data)
	meta.SnapshotID = SnapshotIDFor(meta.ETag)
	meta.Size = int64(len(data))
	return meta
}

// checkPrecondition compares the expected ETag against the stored one. A
// missing document never matches a non-empty expectation.
func checkPrecondition(key, expected, current string, exists bool) error {
	if expected == "" {
		return nil
	}
	if !exists {
		return fmt.Errorf("%w: %s: expected %q, document does not exist", ErrETagMismatch, key, expected)
	}
	if expected != current {
		return fmt.Errorf("%w: %s: expected %q, got %q", ErrETagMismatch, key, expected, current)
	}
	return nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = maps.Clone(meta.Extra)
	return out
}
