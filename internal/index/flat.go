package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Flat is the exact-scan index backend. Every search computes cosine
// similarity against each live vector in the partition, so results are
// exact and deterministic. Partitions up to a few tens of thousands of
// entries stay comfortably fast, which covers per-agent recall tiers.
type Flat struct {
	threshold float64

	mu         sync.RWMutex
	partitions map[string]*flatPartition
}

type flatPartition struct {
	mu sync.RWMutex

	dim     int
	vectors [][]float32
	items   []string
	deleted []bool
	// byItem maps live item ids to their slot. Tombstoned slots have
	// no map entry; a re-added item gets a fresh internal id.
	byItem     map[string]int
	tombstones int
}

// NewFlat creates a flat index. threshold <= 0 selects
// DefaultCompactionThreshold.
func NewFlat(threshold float64) *Flat {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &Flat{
		threshold:  threshold,
		partitions: make(map[string]*flatPartition),
	}
}

func (f *Flat) partition(agentID string, create bool) *flatPartition {
	f.mu.RLock()
	p := f.partitions[agentID]
	f.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p = f.partitions[agentID]; p == nil {
		p = &flatPartition{byItem: make(map[string]int)}
		f.partitions[agentID] = p
	}
	return p
}

// Add indexes a vector and returns its internal id.
func (f *Flat) Add(agentID, itemID string, vec []float32) (int, error) {
	if agentID == "" || itemID == "" {
		return 0, fmt.Errorf("index: agent id and item id are required")
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("index: empty vector for item %s", itemID)
	}

	p := f.partition(agentID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byItem[itemID]; ok {
		return 0, fmt.Errorf("%w: item %s", ErrDuplicateEntry, itemID)
	}
	if p.dim == 0 {
		p.dim = len(vec)
	} else if len(vec) != p.dim {
		return 0, fmt.Errorf("%w: got %d, partition has %d", ErrDimensionMismatch, len(vec), p.dim)
	}

	id := len(p.vectors)
	p.vectors = append(p.vectors, vec)
	p.items = append(p.items, itemID)
	p.deleted = append(p.deleted, false)
	p.byItem[itemID] = id
	return id, nil
}

// Tombstone logically deletes the item's entry, compacting the
// partition when the tombstone ratio strictly exceeds the threshold.
func (f *Flat) Tombstone(agentID, itemID string) (bool, error) {
	p := f.partition(agentID, false)
	if p == nil {
		return false, fmt.Errorf("%w: item %s", ErrNotIndexed, itemID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byItem[itemID]
	if !ok {
		return false, fmt.Errorf("%w: item %s", ErrNotIndexed, itemID)
	}
	p.deleted[id] = true
	delete(p.byItem, itemID)
	p.tombstones++

	if float64(p.tombstones)/float64(len(p.vectors)) > f.threshold {
		p.compact()
		return true, nil
	}
	return false, nil
}

// compact drops tombstoned slots and reassigns internal ids densely,
// preserving relative order. Caller holds p.mu.
func (p *flatPartition) compact() {
	vectors := make([][]float32, 0, len(p.vectors)-p.tombstones)
	items := make([]string, 0, cap(vectors))
	for i, vec := range p.vectors {
		if p.deleted[i] {
			continue
		}
		p.byItem[p.items[i]] = len(vectors)
		vectors = append(vectors, vec)
		items = append(items, p.items[i])
	}
	p.vectors = vectors
	p.items = items
	p.deleted = make([]bool, len(vectors))
	p.tombstones = 0
}

// Search returns up to k live entries by descending cosine similarity.
func (f *Flat) Search(agentID string, vec []float32, k int) ([]Result, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	p := f.partition(agentID, false)
	if p == nil {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dim != 0 && len(vec) != p.dim {
		return nil, fmt.Errorf("%w: got %d, partition has %d", ErrDimensionMismatch, len(vec), p.dim)
	}

	results := make([]Result, 0, len(p.vectors)-p.tombstones)
	for i, cand := range p.vectors {
		if p.deleted[i] {
			continue
		}
		results = append(results, Result{
			ItemID:     p.items[i],
			InternalID: i,
			Score:      cosineSimilarity(vec, cand),
		})
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether the item has a live entry.
func (f *Flat) Contains(agentID, itemID string) bool {
	p := f.partition(agentID, false)
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byItem[itemID]
	return ok
}

// Entries returns the partition's id map ordered by internal id.
func (f *Flat) Entries(agentID string) []Entry {
	p := f.partition(agentID, false)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]Entry, len(p.vectors))
	for i := range p.vectors {
		entries[i] = Entry{ItemID: p.items[i], InternalID: i, Deleted: p.deleted[i]}
	}
	return entries
}

// Rebuild atomically replaces the partition with one built from seeds.
func (f *Flat) Rebuild(agentID string, seeds []Seed) error {
	fresh := &flatPartition{byItem: make(map[string]int, len(seeds))}
	for _, s := range seeds {
		if s.ItemID == "" || len(s.Vector) == 0 {
			return fmt.Errorf("index: rebuild seed for agent %s has empty item id or vector", agentID)
		}
		if _, ok := fresh.byItem[s.ItemID]; ok {
			return fmt.Errorf("%w: rebuild seed %s", ErrDuplicateEntry, s.ItemID)
		}
		if fresh.dim == 0 {
			fresh.dim = len(s.Vector)
		} else if len(s.Vector) != fresh.dim {
			return fmt.Errorf("%w: seed %s has %d, partition has %d",
				ErrDimensionMismatch, s.ItemID, len(s.Vector), fresh.dim)
		}
		fresh.byItem[s.ItemID] = len(fresh.vectors)
		fresh.vectors = append(fresh.vectors, s.Vector)
		fresh.items = append(fresh.items, s.ItemID)
		fresh.deleted = append(fresh.deleted, false)
	}

	f.mu.Lock()
	f.partitions[agentID] = fresh
	f.mu.Unlock()
	return nil
}

// DropAgent removes the partition entirely.
func (f *Flat) DropAgent(agentID string) {
	f.mu.Lock()
	delete(f.partitions, agentID)
	f.mu.Unlock()
}

// Stats returns the partition's live/tombstone counts.
func (f *Flat) Stats(agentID string) Stats {
	p := f.partition(agentID, false)
	if p == nil {
		return Stats{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Live:       len(p.vectors) - p.tombstones,
		Tombstoned: p.tombstones,
		Slots:      len(p.vectors),
	}
}

// sortResults orders by descending score, ties by lower internal id.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].InternalID < results[j].InternalID
	})
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Index = (*Flat)(nil)
