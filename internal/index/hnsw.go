package index

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW is the approximate-graph index backend over coder/hnsw, keyed
// by internal id. The graph has no delete operation, so tombstoned
// nodes stay in it and are filtered out of results; compaction and
// rebuild construct a fresh graph. Search over-fetches by the
// tombstone count and re-ranks candidates with exact cosine scores,
// which keeps ordering ties deterministic.
type HNSW struct {
	threshold float64

	mu         sync.RWMutex
	partitions map[string]*hnswPartition
}

type hnswPartition struct {
	mu sync.RWMutex

	graph *hnsw.Graph[int]

	dim        int
	vectors    [][]float32
	items      []string
	deleted    []bool
	byItem     map[string]int
	tombstones int
}

// NewHNSW creates an HNSW index. threshold <= 0 selects
// DefaultCompactionThreshold.
func NewHNSW(threshold float64) *HNSW {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &HNSW{
		threshold:  threshold,
		partitions: make(map[string]*hnswPartition),
	}
}

func newHNSWPartition(hint int) *hnswPartition {
	return &hnswPartition{
		graph:  hnsw.NewGraph[int](),
		byItem: make(map[string]int, hint),
	}
}

func (h *HNSW) partition(agentID string, create bool) *hnswPartition {
	h.mu.RLock()
	p := h.partitions[agentID]
	h.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p = h.partitions[agentID]; p == nil {
		p = newHNSWPartition(0)
		h.partitions[agentID] = p
	}
	return p
}

// Add indexes a vector and returns its internal id.
func (h *HNSW) Add(agentID, itemID string, vec []float32) (int, error) {
	if agentID == "" || itemID == "" {
		return 0, fmt.Errorf("index: agent id and item id are required")
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("index: empty vector for item %s", itemID)
	}

	p := h.partition(agentID, true)
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
	p.graph.Add(hnsw.MakeNode(id, vec))
	p.vectors = append(p.vectors, vec)
	p.items = append(p.items, itemID)
	p.deleted = append(p.deleted, false)
	p.byItem[itemID] = id
	return id, nil
}

// Tombstone logically deletes the item's entry, compacting the
// partition when the tombstone ratio strictly exceeds the threshold.
func (h *HNSW) Tombstone(agentID, itemID string) (bool, error) {
	p := h.partition(agentID, false)
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

	if float64(p.tombstones)/float64(len(p.vectors)) > h.threshold {
		p.compact()
		return true, nil
	}
	return false, nil
}

// compact rebuilds the graph from the live entries, reassigning
// internal ids densely in prior order. Caller holds p.mu.
func (p *hnswPartition) compact() {
	fresh := newHNSWPartition(len(p.vectors) - p.tombstones)
	fresh.dim = p.dim
	for i, vec := range p.vectors {
		if p.deleted[i] {
			continue
		}
		id := len(fresh.vectors)
		fresh.graph.Add(hnsw.MakeNode(id, vec))
		fresh.vectors = append(fresh.vectors, vec)
		fresh.items = append(fresh.items, p.items[i])
		fresh.deleted = append(fresh.deleted, false)
		fresh.byItem[p.items[i]] = id
	}
	p.graph = fresh.graph
	p.vectors = fresh.vectors
	p.items = fresh.items
	p.deleted = fresh.deleted
	p.byItem = fresh.byItem
	p.tombstones = 0
}

// Search returns up to k live entries by descending cosine similarity.
func (h *HNSW) Search(agentID string, vec []float32, k int) ([]Result, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	p := h.partition(agentID, false)
	if p == nil {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dim != 0 && len(vec) != p.dim {
		return nil, fmt.Errorf("%w: got %d, partition has %d", ErrDimensionMismatch, len(vec), p.dim)
	}
	if len(p.vectors) == 0 {
		return nil, nil
	}

	// Tombstoned nodes are still in the graph, so over-fetch by the
	// tombstone count to keep k live candidates reachable.
	neighbors := p.graph.Search(vec, k+p.tombstones)

	results := make([]Result, 0, len(neighbors))
	for _, node := range neighbors {
		id := node.Key
		if id < 0 || id >= len(p.vectors) || p.deleted[id] {
			continue
		}
		results = append(results, Result{
			ItemID:     p.items[id],
			InternalID: id,
			Score:      cosineSimilarity(vec, node.Value),
		})
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether the item has a live entry.
func (h *HNSW) Contains(agentID, itemID string) bool {
	p := h.partition(agentID, false)
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byItem[itemID]
	return ok
}

// Entries returns the partition's id map ordered by internal id.
func (h *HNSW) Entries(agentID string) []Entry {
	p := h.partition(agentID, false)
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
func (h *HNSW) Rebuild(agentID string, seeds []Seed) error {
	fresh := newHNSWPartition(len(seeds))
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
		id := len(fresh.vectors)
		fresh.graph.Add(hnsw.MakeNode(id, s.Vector))
		fresh.vectors = append(fresh.vectors, s.Vector)
		fresh.items = append(fresh.items, s.ItemID)
		fresh.deleted = append(fresh.deleted, false)
		fresh.byItem[s.ItemID] = id
	}

	h.mu.Lock()
	h.partitions[agentID] = fresh
	h.mu.Unlock()
	return nil
}

// DropAgent removes the partition entirely.
func (h *HNSW) DropAgent(agentID string) {
	h.mu.Lock()
	delete(h.partitions, agentID)
	h.mu.Unlock()
}

// Stats returns the partition's live/tombstone counts.
func (h *HNSW) Stats(agentID string) Stats {
	p := h.partition(agentID, false)
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

var _ Index = (*HNSW)(nil)
