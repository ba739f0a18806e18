package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

// In-memory store fakes for manager tests. They honor the same error
// contracts as the real backends (ErrNotFound, ErrConflict, agent
// scoping) without touching disk.

type fakeRecallStore struct {
	mu    sync.Mutex
	items map[string]map[string]*types.RecallItem
	seq   int
}

func newFakeRecallStore() *fakeRecallStore {
	return &fakeRecallStore{items: make(map[string]map[string]*types.RecallItem)}
}

func copyItem(item *types.RecallItem) *types.RecallItem {
	c := *item
	if item.Embedding != nil {
		c.Embedding = append([]float32(nil), item.Embedding...)
	}
	return &c
}

func (s *fakeRecallStore) Create(ctx context.Context, item *types.RecallItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent := s.items[item.AgentID]
	if agent == nil {
		agent = make(map[string]*types.RecallItem)
		s.items[item.AgentID] = agent
	}
	if _, ok := agent[item.ID]; ok {
		return storage.ErrConflict
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	// seq disambiguates items created within the same clock tick.
	s.seq++
	item.CreatedAt = item.CreatedAt.Add(time.Duration(s.seq) * time.Microsecond)
	agent[item.ID] = copyItem(item)
	return nil
}

func (s *fakeRecallStore) Get(ctx context.Context, agentID, id string) (*types.RecallItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[agentID][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyItem(item), nil
}

func (s *fakeRecallStore) Update(ctx context.Context, item *types.RecallItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.AgentID][item.ID]; !ok {
		return storage.ErrNotFound
	}
	item.UpdatedAt = time.Now().UTC()
	s.items[item.AgentID][item.ID] = copyItem(item)
	return nil
}

func (s *fakeRecallStore) list(agentID string, keep func(*types.RecallItem) bool) []*types.RecallItem {
	var out []*types.RecallItem
	for _, item := range s.items[agentID] {
		if keep(item) {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *fakeRecallStore) List(ctx context.Context, agentID string, opts storage.ListOptions) ([]*types.RecallItem, error) {
	opts.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.list(agentID, func(it *types.RecallItem) bool {
		if !opts.IncludeInactive && !it.IsActive {
			return false
		}
		return opts.Kind == "" || string(it.Kind) == opts.Kind
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *fakeRecallStore) ListActive(ctx context.Context, agentID string) ([]*types.RecallItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(agentID, func(it *types.RecallItem) bool { return it.IsActive }), nil
}

func (s *fakeRecallStore) ListMissingEmbeddings(ctx context.Context, agentID string) ([]*types.RecallItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(agentID, func(it *types.RecallItem) bool {
		return it.IsActive && len(it.Embedding) == 0
	}), nil
}

func (s *fakeRecallStore) MarkInactive(ctx context.Context, agentID, id string, validTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[agentID][id]
	if !ok {
		return storage.ErrNotFound
	}
	item.IsActive = false
	vt := validTo
	item.ValidTo = &vt
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeRecallStore) TouchLastUsed(ctx context.Context, agentID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if item, ok := s.items[agentID][id]; ok {
			t := at
			item.LastUsedAt = &t
		}
	}
	return nil
}

func (s *fakeRecallStore) TouchConfirmed(ctx context.Context, agentID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[agentID][id]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	item.LastConfirmedAt = &t
	return nil
}

func (s *fakeRecallStore) Search(ctx context.Context, agentID, query string, limit int) ([]*types.RecallItem, error) {
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.list(agentID, func(it *types.RecallItem) bool {
		return it.IsActive &&
			(strings.Contains(strings.ToLower(it.Content), q) || strings.Contains(strings.ToLower(it.Title), q))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeRecallStore) Delete(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[agentID][id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items[agentID], id)
	return nil
}

func (s *fakeRecallStore) DeleteAgent(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items[agentID])
	delete(s.items, agentID)
	return n, nil
}

func (s *fakeRecallStore) Count(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[agentID]), nil
}

func (s *fakeRecallStore) Agents(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for agentID, items := range s.items {
		if len(items) > 0 {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeRecallStore) Close() error { return nil }

var _ storage.RecallStore = (*fakeRecallStore)(nil)

type fakeArchiveStore struct {
	mu   sync.Mutex
	recs map[string][]*types.ArchivalRecord
	seq  int
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{recs: make(map[string][]*types.ArchivalRecord)}
}

func (s *fakeArchiveStore) Insert(ctx context.Context, rec *types.ArchivalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%06d", s.seq)
	}
	rec.CreatedAt = time.Now().UTC().Add(time.Duration(s.seq) * time.Microsecond)
	c := *rec
	s.recs[rec.AgentID] = append(s.recs[rec.AgentID], &c)
	return nil
}

func (s *fakeArchiveStore) Get(ctx context.Context, agentID, id string) (*types.ArchivalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs[agentID] {
		if rec.ID == id {
			c := *rec
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeArchiveStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*types.ArchivalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[agentID]
	out := make([]*types.ArchivalRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		c := *recs[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *fakeArchiveStore) ListSession(ctx context.Context, agentID, sessionID string) ([]*types.ArchivalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ArchivalRecord
	for _, rec := range s.recs[agentID] {
		if rec.SessionID == sessionID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeArchiveStore) Search(ctx context.Context, agentID, query string, limit int) ([]*types.ArchivalRecord, error) {
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[agentID]
	var out []*types.ArchivalRecord
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(recs[i].Content), q) {
			c := *recs[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeArchiveStore) Delete(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[agentID]
	for i, rec := range recs {
		if rec.ID == id {
			s.recs[agentID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *fakeArchiveStore) DeleteBefore(ctx context.Context, agentID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*types.ArchivalRecord
	n := 0
	for _, rec := range s.recs[agentID] {
		if rec.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	s.recs[agentID] = kept
	return n, nil
}

func (s *fakeArchiveStore) DeleteAll(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recs[agentID])
	delete(s.recs, agentID)
	return n, nil
}

func (s *fakeArchiveStore) Count(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs[agentID]), nil
}

func (s *fakeArchiveStore) Close() error { return nil }

var _ storage.ArchiveStore = (*fakeArchiveStore)(nil)

type fakeIndexMapStore struct {
	mu      sync.Mutex
	entries map[string]map[string]storage.IndexMapEntry
}

func newFakeIndexMapStore() *fakeIndexMapStore {
	return &fakeIndexMapStore{entries: make(map[string]map[string]storage.IndexMapEntry)}
}

func (s *fakeIndexMapStore) PutEntry(ctx context.Context, agentID, itemID string, internalID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent := s.entries[agentID]
	if agent == nil {
		agent = make(map[string]storage.IndexMapEntry)
		s.entries[agentID] = agent
	}
	agent[itemID] = storage.IndexMapEntry{ItemID: itemID, InternalID: internalID}
	return nil
}

func (s *fakeIndexMapStore) MarkDeleted(ctx context.Context, agentID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[agentID][itemID]
	if !ok {
		return storage.ErrNotFound
	}
	entry.Deleted = true
	s.entries[agentID][itemID] = entry
	return nil
}

func (s *fakeIndexMapStore) ListEntries(ctx context.Context, agentID string) ([]storage.IndexMapEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.IndexMapEntry
	for _, entry := range s.entries[agentID] {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InternalID < out[j].InternalID })
	return out, nil
}

func (s *fakeIndexMapStore) ReplaceEntries(ctx context.Context, agentID string, entries []storage.IndexMapEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent := make(map[string]storage.IndexMapEntry, len(entries))
	for _, entry := range entries {
		agent[entry.ItemID] = entry
	}
	s.entries[agentID] = agent
	return nil
}

func (s *fakeIndexMapStore) DeleteAgentEntries(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries[agentID])
	delete(s.entries, agentID)
	return n, nil
}

func (s *fakeIndexMapStore) CountEntries(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.entries[agentID] {
		if !entry.Deleted {
			n++
		}
	}
	return n, nil
}

var _ storage.IndexMapStore = (*fakeIndexMapStore)(nil)

// fakeEmbedder maps each token to a fixed bucket of a small vector, so
// texts that share words come out similar and disjoint texts do not.
type fakeEmbedder struct {
	mu   sync.Mutex
	fail bool
}

const fakeEmbedDim = 64

func (f *fakeEmbedder) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	vec := make([]float32, fakeEmbedDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, `.,!?"'`)
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%fakeEmbedDim]++
	}
	return vec, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

// fakeTextGen replays scripted responses in order.
type fakeTextGen struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeTextGen) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	out := f.responses[0]
	f.responses = f.responses[1:]
	return out, nil
}

func (f *fakeTextGen) Model() string { return "fake-model" }
