// Package index provides the in-memory similarity index over recall
// item embeddings. The index is partitioned by agent: every operation
// addresses exactly one partition, and no search can return an entry
// from another agent's partition.
//
// Deletion is logical. Tombstoned entries keep their internal id and
// are skipped by search; when the tombstone ratio of a partition
// exceeds the compaction threshold the partition is compacted, which
// drops tombstones and reassigns internal ids densely while preserving
// relative order. The index holds no durable state of its own: the
// recall store is the source of truth and Rebuild reconstructs any
// partition from it.
package index

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEntry is returned when adding an item id that is
	// already live in the partition.
	ErrDuplicateEntry = errors.New("index: duplicate entry")

	// ErrNotIndexed is returned when tombstoning an item id with no
	// live entry in the partition.
	ErrNotIndexed = errors.New("index: entry not indexed")

	// ErrDimensionMismatch is returned when a vector's dimension does
	// not match the partition's existing vectors.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
)

// DefaultCompactionThreshold is the tombstone ratio above which a
// partition is compacted. The ratio must strictly exceed the threshold:
// at exactly the threshold no compaction runs.
const DefaultCompactionThreshold = 0.30

// Seed is one (item id, vector) pair used to rebuild a partition.
type Seed struct {
	ItemID string
	Vector []float32
}

// Entry describes one slot of a partition's id map.
type Entry struct {
	ItemID     string
	InternalID int
	Deleted    bool
}

// Result is one search hit.
type Result struct {
	ItemID     string
	InternalID int
	// Score is cosine similarity in [-1, 1].
	Score float32
}

// Stats describes the state of one partition.
type Stats struct {
	Live       int
	Tombstoned int
	// Slots is the total number of internal ids assigned, live and
	// tombstoned.
	Slots int
}

// Index is a per-agent similarity index over embedding vectors.
//
// Implementations are safe for concurrent use. Search never blocks on
// writes to other partitions.
type Index interface {
	// Add indexes a vector for the item and returns its internal id.
	// Internal ids are assigned in insertion order within a partition.
	// Returns ErrDuplicateEntry if the item already has a live entry.
	Add(agentID, itemID string, vec []float32) (int, error)

	// Tombstone logically deletes the item's entry. When the
	// partition's tombstone ratio strictly exceeds the compaction
	// threshold, the partition is compacted before returning; the
	// second result reports whether that happened. After a compaction
	// the caller must re-persist the id map from Entries.
	Tombstone(agentID, itemID string) (compacted bool, err error)

	// Search returns up to k live entries most similar to vec, ordered
	// by descending cosine similarity. Equal scores order by lower
	// internal id. Tombstoned entries never appear.
	Search(agentID string, vec []float32, k int) ([]Result, error)

	// Contains reports whether the item has a live entry.
	Contains(agentID, itemID string) bool

	// Entries returns the partition's id map ordered by internal id,
	// tombstones included.
	Entries(agentID string) []Entry

	// Rebuild atomically replaces the partition with one built from
	// seeds. Internal ids are assigned 0..n-1 in seed order. Searches
	// see either the old partition or the new one, never a mix.
	// Rebuilding from the same seeds is idempotent.
	Rebuild(agentID string, seeds []Seed) error

	// DropAgent removes the partition entirely.
	DropAgent(agentID string)

	// Stats returns the partition's live/tombstone counts.
	Stats(agentID string) Stats
}

// New constructs an index of the named backend ("flat" or "hnsw").
// threshold <= 0 selects DefaultCompactionThreshold.
func New(backend string, threshold float64) (Index, error) {
	switch backend {
	case "", "flat":
		return NewFlat(threshold), nil
	case "hnsw":
		return NewHNSW(threshold), nil
	default:
		return nil, fmt.Errorf("index: unknown backend %q", backend)
	}
}
