// Package state defines the byte-level persistence contract behind a
// docstore Store, plus the two backends shipped with the module.
//
// A Backend only reads and writes whole encoded documents under a key. It
// knows nothing about envelopes, merging, or sorting; those stay in the
// docstore package, which encodes the complete document in memory before a
// Backend ever sees it.
//
// Data flow:
//
//	docstore.Store.Save -> Document.Dump -> Backend.Write
//	Backend.Read -> Document.Parse -> docstore.Store.Load
//
// Metadata:
//
//	Meta.ETag is the hex BLAKE3 digest of the uncompressed document bytes, so
//	the same document has the same ETag in every backend. Meta.SnapshotID is
//	a name-based UUID derived from the ETag. Writes may carry an expected
//	ETag; a mismatch fails with ErrETagMismatch without touching storage.
//
// Backends:
//
//	FileBackend keys are file paths. Writes go to a temporary file in the
//	target directory which is then renamed over the target, so readers never
//	observe a partial document. Paths ending in ".zst" are zstd-compressed.
//	MemoryBackend keeps documents in a map and is meant for tests and
//	examples.
package state
