// Package engine orchestrates the layered memory system: the durable
// recall and archive tiers, the similarity index, and the policy
// engine that decides what is worth keeping.
//
// The manager owns no data. Raw events belong to the archive store,
// conclusions to the recall store, vector placement to the index.
// Writes follow write-ahead ordering: the authoritative row is durable
// before the index is touched, and an idempotent per-agent rebuild is
// the recovery path whenever the two disagree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratamem/strata/internal/index"
	"github.com/stratamem/strata/internal/llm"
	"github.com/stratamem/strata/internal/policy"
	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/pkg/types"
)

// Manager is the public surface of the memory engine. All operations
// are agent-scoped; mutation is serialized per agent while reads
// proceed concurrently.
type Manager struct {
	cfg Config

	recall   storage.RecallStore
	archive  storage.ArchiveStore
	indexMap storage.IndexMapStore
	idx      index.Index
	pol      *policy.Engine

	textGen  llm.TextGenerator
	embedder llm.EmbeddingGenerator

	locks  *agentLocks
	mirror *mirror

	// sessions counts turns per (agent, session) for the consolidation
	// trigger.
	sessionMu sync.Mutex
	sessions  map[string]int

	mu           sync.RWMutex
	started      bool
	shuttingDown bool
}

// Deps are the manager's collaborators. Recall, Archive, IndexMap,
// Index, and Policy are required; the model clients are optional and
// their absence degrades the engine to archive-only operation.
type Deps struct {
	Recall   storage.RecallStore
	Archive  storage.ArchiveStore
	IndexMap storage.IndexMapStore
	Index    index.Index
	Policy   *policy.Engine

	TextGen  llm.TextGenerator
	Embedder llm.EmbeddingGenerator
}

// New creates a manager. Call Start before use.
func New(deps Deps, cfg Config) (*Manager, error) {
	if deps.Recall == nil || deps.Archive == nil || deps.IndexMap == nil {
		return nil, fmt.Errorf("engine: recall, archive, and index map stores are required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("engine: similarity index is required")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("engine: policy engine is required")
	}
	cfg.Normalize()

	mir, err := newMirror(cfg.MirrorSize)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create recall mirror: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		recall:   deps.Recall,
		archive:  deps.Archive,
		indexMap: deps.IndexMap,
		idx:      deps.Index,
		pol:      deps.Policy,
		textGen:  deps.TextGen,
		embedder: deps.Embedder,
		locks:    newAgentLocks(),
		mirror:   mir,
		sessions: make(map[string]int),
	}, nil
}

// Start rebuilds every agent's index partition from the recall store
// and warms the hot mirror. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.shuttingDown = false
	m.mu.Unlock()

	log.Println("Starting memory manager...")

	agents, err := m.recall.Agents(ctx)
	if err != nil {
		return fmt.Errorf("engine: failed to list agents: %w", err)
	}
	for _, agentID := range agents {
		if err := m.rebuildAgent(ctx, agentID); err != nil {
			return fmt.Errorf("engine: failed to rebuild index for agent %s: %w", agentID, err)
		}
	}

	log.Printf("Memory manager started (%d agent partitions loaded)", len(agents))
	return nil
}

// Stop flushes the mirror and stops accepting operations.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.shuttingDown = true
	m.started = false
	m.mu.Unlock()

	m.mirror.purge()
	log.Println("Memory manager stopped")
}

func (m *Manager) running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started && !m.shuttingDown
}

// RecordEvent persists an event to the archive and, when the policy
// routes it, derives a recall item from it. The archive write is the
// durability guarantee: recall or index failures are logged and left
// to maintenance, never propagated to the caller.
func (m *Manager) RecordEvent(ctx context.Context, agentID string, event types.Event) (*types.ArchivalRecord, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}

	rec := &types.ArchivalRecord{
		AgentID:   agentID,
		SessionID: event.SessionID,
		TurnID:    event.TurnID,
		Role:      event.Role,
		Content:   event.Content,
		Tags:      event.Tags,
	}
	if err := m.archive.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("engine: failed to archive event: %w", err)
	}

	route := m.pol.Route(event)
	if route.ToRecall {
		cand := m.distill(ctx, event, route, rec)
		if _, err := m.UpsertRecall(ctx, agentID, cand); err != nil {
			log.Printf("WARNING: recall upsert failed for agent %s (event archived as %s): %v", agentID, rec.ID, err)
		}
	}

	turns := m.bumpTurns(agentID, event.SessionID)
	if m.pol.ShouldConsolidate(policy.SessionState{Turns: turns}) {
		if _, err := m.Consolidate(ctx, agentID, event.SessionID); err != nil {
			log.Printf("WARNING: consolidation failed for agent %s session %s: %v", agentID, event.SessionID, err)
		}
	}

	return rec, nil
}

// distill turns a routed event into a recall candidate, via the text
// model when one is configured and verbatim otherwise.
func (m *Manager) distill(ctx context.Context, event types.Event, route policy.Route, rec *types.ArchivalRecord) types.RecallCandidate {
	cand := types.RecallCandidate{
		Kind:       route.Kind,
		Content:    strings.TrimSpace(event.Content),
		Confidence: 0.75,
		Importance: 0.5,
		Evidence: types.EvidenceRef{
			RecordID:  rec.ID,
			SessionID: event.SessionID,
			TurnID:    event.TurnID,
		},
	}
	if m.textGen == nil {
		return cand
	}

	var out string
	err := llm.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		var cerr error
		out, cerr = m.textGen.Complete(ctx, llm.DistillPrompt(event.Content, route.Kind))
		return cerr
	})
	if err != nil {
		log.Printf("WARNING: distillation unavailable, keeping verbatim content: %v", err)
		return cand
	}

	parsed, err := llm.ParseCandidate(out, route.Kind)
	if err != nil {
		log.Printf("WARNING: unparseable distillation response, keeping verbatim content: %v", err)
		return cand
	}
	parsed.Evidence = cand.Evidence
	return *parsed
}

// UpsertRecall asks the policy engine for a plan and applies it
// transactionally against the recall store and the index. A Conflict
// (the plan raced a concurrent write) is re-planned once before being
// surfaced.
func (m *Manager) UpsertRecall(ctx context.Context, agentID string, cand types.RecallCandidate) (string, error) {
	if !m.running() {
		return "", ErrNotStarted
	}
	if agentID == "" || strings.TrimSpace(cand.Content) == "" {
		return "", fmt.Errorf("%w: agent id and candidate content are required", storage.ErrInvalidInput)
	}
	if !types.ValidKind(cand.Kind) {
		return "", fmt.Errorf("%w: unknown kind %q", storage.ErrInvalidInput, cand.Kind)
	}

	unlock := m.locks.Lock(agentID)
	defer unlock()

	itemID, err := m.applyUpsert(ctx, agentID, cand)
	if errors.Is(err, storage.ErrConflict) {
		log.Printf("upsert conflict for agent %s, re-planning once", agentID)
		itemID, err = m.applyUpsert(ctx, agentID, cand)
	}
	return itemID, err
}

func (m *Manager) applyUpsert(ctx context.Context, agentID string, cand types.RecallCandidate) (string, error) {
	existing, err := m.recall.ListActive(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("engine: failed to load existing items: %w", err)
	}

	plan := m.pol.PlanUpsert(cand, existing)
	if plan.RequiresConfirmation {
		log.Printf("NOTICE: high-risk recall content for agent %s stored at reduced confidence, confirmation advised", agentID)
	}

	switch plan.Action {
	case policy.ActionCreate:
		return m.createItem(ctx, agentID, plan.Candidate)
	case policy.ActionUpdate:
		return m.updateItem(ctx, plan.Target, plan.Candidate)
	case policy.ActionSupersede:
		return m.supersedeItem(ctx, agentID, plan.Target, plan.Candidate)
	default:
		return "", fmt.Errorf("engine: unknown upsert action %q", plan.Action)
	}
}

// createItem persists a new recall row and then indexes its vector.
// If indexing fails the row is removed again so neither side ends up
// referencing a phantom on the other.
func (m *Manager) createItem(ctx context.Context, agentID string, cand types.RecallCandidate) (string, error) {
	now := time.Now().UTC()
	item := &types.RecallItem{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Kind:       cand.Kind,
		Title:      cand.Title,
		Content:    cand.Content,
		Confidence: cand.Confidence,
		Importance: cand.Importance,
		IsActive:   true,
		ValidFrom:  now,
		Evidence:   cand.Evidence,
	}

	if vec := m.embed(ctx, cand.Content); vec != nil {
		item.Embedding = vec
		item.EmbeddingModel = m.embedder.Model()
	}

	if err := m.recall.Create(ctx, item); err != nil {
		return "", err
	}

	if len(item.Embedding) > 0 {
		if err := m.indexItem(ctx, item); err != nil {
			if delErr := m.recall.Delete(ctx, agentID, item.ID); delErr != nil {
				log.Printf("ERROR: failed to roll back recall item %s after index failure: %v", item.ID, delErr)
			}
			return "", fmt.Errorf("engine: failed to index recall item: %w", err)
		}
	}

	m.mirror.put(item)
	return item.ID, nil
}

// updateItem rewrites the matched item in place. Kind and id never
// change; content changes re-embed and replace the indexed vector.
func (m *Manager) updateItem(ctx context.Context, target *types.RecallItem, cand types.RecallCandidate) (string, error) {
	updated := *target
	if cand.Title != "" {
		updated.Title = cand.Title
	}
	contentChanged := updated.Content != cand.Content
	updated.Content = cand.Content
	updated.Confidence = cand.Confidence
	updated.Importance = cand.Importance
	if !cand.Evidence.IsZero() {
		updated.Evidence = cand.Evidence
	}

	if contentChanged || len(updated.Embedding) == 0 {
		if vec := m.embed(ctx, cand.Content); vec != nil {
			updated.Embedding = vec
			updated.EmbeddingModel = m.embedder.Model()
		}
	}

	if err := m.recall.Update(ctx, &updated); err != nil {
		return "", err
	}
	if contentChanged && len(updated.Embedding) > 0 {
		if err := m.replaceVector(ctx, updated.AgentID, updated.ID, updated.Embedding); err != nil {
			log.Printf("ERROR: failed to reindex item %s, rebuilding partition: %v", updated.ID, err)
			if rbErr := m.rebuildAgent(ctx, updated.AgentID); rbErr != nil {
				return "", fmt.Errorf("%w: %v", ErrIndexInconsistency, rbErr)
			}
		}
	}

	m.mirror.put(&updated)
	return updated.ID, nil
}

// supersedeItem deactivates the matched item and creates the
// replacement. On a failed create the prior item is restored, so
// exactly one item for the fact-slot stays active either way.
func (m *Manager) supersedeItem(ctx context.Context, agentID string, target *types.RecallItem, cand types.RecallCandidate) (string, error) {
	now := time.Now().UTC()
	if err := m.recall.MarkInactive(ctx, agentID, target.ID, now); err != nil {
		return "", err
	}
	if err := m.tombstoneEntry(ctx, agentID, target.ID); err != nil {
		log.Printf("WARNING: failed to tombstone superseded item %s: %v", target.ID, err)
	}
	m.mirror.invalidate(agentID, target.ID)

	itemID, err := m.createItem(ctx, agentID, cand)
	if err != nil {
		restored := *target
		restored.ValidTo = nil
		restored.IsActive = true
		if rbErr := m.recall.Update(ctx, &restored); rbErr != nil {
			log.Printf("ERROR: failed to restore superseded item %s: %v", target.ID, rbErr)
		} else if len(restored.Embedding) > 0 {
			if rbErr := m.replaceVector(ctx, agentID, restored.ID, restored.Embedding); rbErr != nil {
				log.Printf("ERROR: failed to reindex restored item %s: %v", restored.ID, rbErr)
			}
		}
		return "", err
	}
	return itemID, nil
}

// indexItem adds the item's vector and writes through to the durable
// id map.
func (m *Manager) indexItem(ctx context.Context, item *types.RecallItem) error {
	internalID, err := m.idx.Add(item.AgentID, item.ID, item.Embedding)
	if err != nil {
		return err
	}
	if err := m.indexMap.PutEntry(ctx, item.AgentID, item.ID, internalID); err != nil {
		log.Printf("WARNING: failed to persist index map entry for %s, rebuilding: %v", item.ID, err)
		return m.rebuildAgent(ctx, item.AgentID)
	}
	return nil
}

// replaceVector swaps the item's indexed vector: tombstone the old
// entry if present, insert the new one.
func (m *Manager) replaceVector(ctx context.Context, agentID, itemID string, vec []float32) error {
	if m.idx.Contains(agentID, itemID) {
		if err := m.tombstoneEntry(ctx, agentID, itemID); err != nil {
			return err
		}
	}
	internalID, err := m.idx.Add(agentID, itemID, vec)
	if err != nil {
		return err
	}
	return m.indexMap.PutEntry(ctx, agentID, itemID, internalID)
}

// tombstoneEntry tombstones the item's index entry and mirrors the
// change into the durable map. A compaction replaces the whole map
// since every internal id was reassigned.
func (m *Manager) tombstoneEntry(ctx context.Context, agentID, itemID string) error {
	compacted, err := m.idx.Tombstone(agentID, itemID)
	if err != nil {
		if errors.Is(err, index.ErrNotIndexed) {
			// Items without a vector have no entry to tombstone.
			return nil
		}
		return err
	}
	if compacted {
		log.Printf("index partition for agent %s compacted", agentID)
		return m.persistEntries(ctx, agentID)
	}
	if err := m.indexMap.MarkDeleted(ctx, agentID, itemID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// persistEntries replaces the agent's durable id map with the index's
// current entries.
func (m *Manager) persistEntries(ctx context.Context, agentID string) error {
	entries := m.idx.Entries(agentID)
	rows := make([]storage.IndexMapEntry, len(entries))
	for i, e := range entries {
		rows[i] = storage.IndexMapEntry{ItemID: e.ItemID, InternalID: e.InternalID, Deleted: e.Deleted}
	}
	return m.indexMap.ReplaceEntries(ctx, agentID, rows)
}

// embed fetches the vector for text, retrying transient failures.
// Returns nil when no embedder is configured or the service stayed
// unavailable; the item is stored vector-less and re-embedded by the
// next maintenance pass.
func (m *Manager) embed(ctx context.Context, text string) []float32 {
	if m.embedder == nil {
		return nil
	}
	var vec []float32
	err := llm.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		var eerr error
		vec, eerr = m.embedder.Embed(ctx, text)
		return eerr
	})
	if err != nil {
		log.Printf("WARNING: embedding unavailable, storing without vector: %v", err)
		return nil
	}
	return vec
}

// Retrieve returns up to k active recall items ranked by similarity to
// the query. Inactive and expired hits are filtered out; last_used_at
// is touched best-effort for the returned items. Without a usable
// query vector the lexical search path serves as fallback.
func (m *Manager) Retrieve(ctx context.Context, agentID, query string, k int) ([]*types.RecallItem, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}
	if k <= 0 {
		k = m.cfg.RetrieveLimit
	}

	vec := m.embed(ctx, query)
	if vec == nil {
		return m.keywordRetrieve(ctx, agentID, query, k)
	}

	hits, err := m.idx.Search(agentID, vec, k*m.cfg.Overfetch)
	if err != nil {
		return nil, fmt.Errorf("engine: index query failed: %w", err)
	}
	if len(hits) == 0 {
		return m.keywordRetrieve(ctx, agentID, query, k)
	}

	now := time.Now().UTC()
	items := make([]*types.RecallItem, 0, k)
	ids := make([]string, 0, k)
	for _, hit := range hits {
		if len(items) >= k {
			break
		}
		item, err := m.getItem(ctx, agentID, hit.ItemID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// The index knows an item the store does not: rebuild
				// rather than ignore. The rebuild mutates the partition
				// and the durable id map, so it takes the agent's
				// mutation lock like any other writer.
				log.Printf("ERROR: index references missing item %s for agent %s, rebuilding", hit.ItemID, agentID)
				unlock := m.locks.Lock(agentID)
				rbErr := m.rebuildAgent(ctx, agentID)
				unlock()
				if rbErr != nil {
					return nil, fmt.Errorf("%w: %v", ErrIndexInconsistency, rbErr)
				}
				continue
			}
			return nil, err
		}
		if !item.IsActive || item.Expired(now) {
			continue
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}

	if len(ids) > 0 {
		if err := m.recall.TouchLastUsed(ctx, agentID, ids, now); err != nil {
			log.Printf("WARNING: failed to touch last_used_at for agent %s: %v", agentID, err)
		}
	}
	return items, nil
}

// keywordRetrieve is the lexical fallback when no query vector is
// available or the index has nothing for the agent.
func (m *Manager) keywordRetrieve(ctx context.Context, agentID, query string, k int) ([]*types.RecallItem, error) {
	items, err := m.recall.Search(ctx, agentID, keywordPattern(query), k)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	kept := items[:0]
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Expired(now) {
			continue
		}
		kept = append(kept, item)
		ids = append(ids, item.ID)
	}
	if len(ids) > 0 {
		if err := m.recall.TouchLastUsed(ctx, agentID, ids, now); err != nil {
			log.Printf("WARNING: failed to touch last_used_at for agent %s: %v", agentID, err)
		}
	}
	return kept, nil
}

// stopwords are function words too common to select on; picking one as
// the search token would match nearly everything.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "can": {},
	"could": {}, "did": {}, "do": {}, "does": {}, "for": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "please": {}, "should": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// keywordPattern reduces a natural-language query to its most
// selective token, since the store-level search is a substring match.
// Stopwords are skipped; if the query is all stopwords the longest one
// still serves.
func keywordPattern(query string) string {
	best := ""
	fallback := ""
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, `.,!?"'`)
		if len(tok) > len(fallback) {
			fallback = tok
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if len(tok) > len(best) {
			best = tok
		}
	}
	if best == "" {
		best = fallback
	}
	if best == "" {
		return query
	}
	return best
}

func (m *Manager) getItem(ctx context.Context, agentID, itemID string) (*types.RecallItem, error) {
	if item, ok := m.mirror.get(agentID, itemID); ok {
		return item, nil
	}
	item, err := m.recall.Get(ctx, agentID, itemID)
	if err != nil {
		return nil, err
	}
	m.mirror.put(item)
	return item, nil
}

// RetrieveArchive reads the cold tier. It is a triggered path
// (evidence requests, low-confidence recall, maintenance), not part of
// per-turn retrieval.
func (m *Manager) RetrieveArchive(ctx context.Context, agentID string, filters storage.ArchiveFilters, k int) ([]*types.ArchivalRecord, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}
	if k <= 0 {
		k = m.cfg.RetrieveLimit
	}

	var (
		recs []*types.ArchivalRecord
		err  error
	)
	switch {
	case filters.SessionID != "":
		recs, err = m.archive.ListSession(ctx, agentID, filters.SessionID)
	case filters.Query != "":
		recs, err = m.archive.Search(ctx, agentID, filters.Query, k)
	default:
		recs, err = m.archive.ListRecent(ctx, agentID, k)
	}
	if err != nil {
		return nil, err
	}

	if !filters.Before.IsZero() {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.CreatedAt.Before(filters.Before) {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	if len(recs) > k {
		recs = recs[:k]
	}
	return recs, nil
}

// Consolidate distills the session's recent raw events into a small
// set of new conclusions and applies them through the regular upsert
// path. Without a text model it is a no-op.
func (m *Manager) Consolidate(ctx context.Context, agentID, sessionID string) ([]string, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}
	if m.textGen == nil {
		return nil, nil
	}

	var (
		records []*types.ArchivalRecord
		err     error
	)
	if sessionID != "" {
		records, err = m.archive.ListSession(ctx, agentID, sessionID)
	} else {
		records, err = m.archive.ListRecent(ctx, agentID, m.cfg.ConsolidateRecent)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: failed to gather records for consolidation: %w", err)
	}
	if len(records) > m.cfg.ConsolidateRecent {
		records = records[len(records)-m.cfg.ConsolidateRecent:]
	}
	if len(records) == 0 {
		return nil, nil
	}

	items, err := m.recall.ListActive(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load recall items for consolidation: %w", err)
	}

	prompt := llm.ConsolidationPrompt(records, items, m.cfg.ConsolidateMin, m.cfg.ConsolidateMax)
	var out string
	err = llm.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		var cerr error
		out, cerr = m.textGen.Complete(ctx, prompt)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("engine: consolidation model call failed: %w", err)
	}

	cands, err := llm.ParseCandidates(out, m.cfg.ConsolidateMax)
	if err != nil {
		return nil, fmt.Errorf("engine: unparseable consolidation response: %w", err)
	}

	var created []string
	for _, cand := range cands {
		if cand.Evidence.IsZero() {
			cand.Evidence = types.EvidenceRef{SessionID: sessionID}
		}
		id, err := m.UpsertRecall(ctx, agentID, cand)
		if err != nil {
			log.Printf("WARNING: consolidation upsert failed for agent %s: %v", agentID, err)
			continue
		}
		created = append(created, id)
	}
	log.Printf("Consolidated %d conclusions for agent %s session %s", len(created), agentID, sessionID)
	return created, nil
}

// Forget applies one explicit forget mode to an item. Decay shrinks
// the scores, deactivate retires the item from retrieval, delete
// erases the row. The archive tier is never touched here.
func (m *Manager) Forget(ctx context.Context, agentID, itemID string, mode policy.ForgetAction) error {
	if !m.running() {
		return ErrNotStarted
	}
	switch mode {
	case policy.ForgetDecay, policy.ForgetDeactivate, policy.ForgetDelete:
	default:
		return fmt.Errorf("%w: unknown forget mode %q", storage.ErrInvalidInput, mode)
	}

	unlock := m.locks.Lock(agentID)
	defer unlock()

	item, err := m.recall.Get(ctx, agentID, itemID)
	if err != nil {
		return err
	}

	switch mode {
	case policy.ForgetDecay:
		item.Confidence, item.Importance = m.pol.Decay(item)
		if err := m.recall.Update(ctx, item); err != nil {
			return err
		}
		m.mirror.put(item)
		return nil

	case policy.ForgetDeactivate:
		return m.deactivateItem(ctx, item)

	default: // ForgetDelete
		if err := m.tombstoneEntry(ctx, agentID, itemID); err != nil {
			return err
		}
		if err := m.recall.Delete(ctx, agentID, itemID); err != nil {
			return err
		}
		m.mirror.invalidate(agentID, itemID)
		return nil
	}
}

// deactivateItem retires an item from retrieval while keeping the row
// for audit. Caller holds the agent lock.
func (m *Manager) deactivateItem(ctx context.Context, item *types.RecallItem) error {
	now := time.Now().UTC()
	if err := m.recall.MarkInactive(ctx, item.AgentID, item.ID, now); err != nil {
		return err
	}
	if err := m.tombstoneEntry(ctx, item.AgentID, item.ID); err != nil {
		log.Printf("WARNING: failed to tombstone deactivated item %s: %v", item.ID, err)
	}
	m.mirror.invalidate(item.AgentID, item.ID)
	return nil
}

// Confirm records an explicit user reconfirmation of an item, and
// reactivates it when the policy's reactivation hook is enabled.
func (m *Manager) Confirm(ctx context.Context, agentID, itemID string) error {
	if !m.running() {
		return ErrNotStarted
	}

	unlock := m.locks.Lock(agentID)
	defer unlock()

	item, err := m.recall.Get(ctx, agentID, itemID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.recall.TouchConfirmed(ctx, agentID, itemID, now); err != nil {
		return err
	}
	item.LastConfirmedAt = &now

	if m.pol.ShouldReactivate(item) {
		item.IsActive = true
		item.ValidTo = nil
		if err := m.recall.Update(ctx, item); err != nil {
			return err
		}
		if len(item.Embedding) > 0 {
			if err := m.replaceVector(ctx, agentID, itemID, item.Embedding); err != nil {
				log.Printf("WARNING: failed to reindex reactivated item %s: %v", itemID, err)
			}
		}
	}

	m.mirror.put(item)
	return nil
}

// UpdateContent applies a direct user edit to an item's content,
// guarded by the policy edit gate. The vector is recomputed and
// replaced in the index.
func (m *Manager) UpdateContent(ctx context.Context, agentID, itemID, content string) error {
	if !m.running() {
		return ErrNotStarted
	}
	if !m.pol.AllowEdit("recall") {
		return ErrEditNotAllowed
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	unlock := m.locks.Lock(agentID)
	defer unlock()

	item, err := m.recall.Get(ctx, agentID, itemID)
	if err != nil {
		return err
	}

	item.Content = content
	if vec := m.embed(ctx, content); vec != nil {
		item.Embedding = vec
		item.EmbeddingModel = m.embedder.Model()
	}
	if err := m.recall.Update(ctx, item); err != nil {
		return err
	}
	if item.IsActive && len(item.Embedding) > 0 {
		if err := m.replaceVector(ctx, agentID, itemID, item.Embedding); err != nil {
			log.Printf("ERROR: failed to reindex edited item %s, rebuilding: %v", itemID, err)
			if rbErr := m.rebuildAgent(ctx, agentID); rbErr != nil {
				return fmt.Errorf("%w: %v", ErrIndexInconsistency, rbErr)
			}
		}
	}

	m.mirror.put(item)
	return nil
}

// AgentExport is the full dump of one agent's memory, for compliance.
type AgentExport struct {
	AgentID    string                  `json:"agent_id"`
	ExportedAt time.Time               `json:"exported_at"`
	Items      []*types.RecallItem     `json:"items"`
	Records    []*types.ArchivalRecord `json:"records"`
}

// ExportAgent dumps both tiers for the agent, inactive items included.
func (m *Manager) ExportAgent(ctx context.Context, agentID string) (*AgentExport, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}

	items, err := m.recall.List(ctx, agentID, storage.ListOptions{Limit: -1, IncludeInactive: true})
	if err != nil {
		return nil, err
	}

	count, err := m.archive.Count(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var records []*types.ArchivalRecord
	if count > 0 {
		records, err = m.archive.ListRecent(ctx, agentID, count)
		if err != nil {
			return nil, err
		}
	}

	return &AgentExport{
		AgentID:    agentID,
		ExportedAt: time.Now().UTC(),
		Items:      items,
		Records:    records,
	}, nil
}

// DeleteAgentData erases the agent across both tiers and the index,
// synchronously, and verifies that nothing remains.
func (m *Manager) DeleteAgentData(ctx context.Context, agentID string) error {
	if !m.running() {
		return ErrNotStarted
	}

	unlock := m.locks.Lock(agentID)
	defer unlock()

	itemCount, err := m.recall.DeleteAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("engine: failed to erase recall items: %w", err)
	}
	recCount, err := m.archive.DeleteAll(ctx, agentID)
	if err != nil {
		return fmt.Errorf("engine: failed to erase archival records: %w", err)
	}
	if _, err := m.indexMap.DeleteAgentEntries(ctx, agentID); err != nil {
		return fmt.Errorf("engine: failed to erase index map entries: %w", err)
	}
	m.idx.DropAgent(agentID)
	m.mirror.dropAgent(agentID)
	m.clearSessions(agentID)

	// Erasure is a verified post-condition, not best-effort.
	if n, err := m.recall.Count(ctx, agentID); err != nil || n != 0 {
		return fmt.Errorf("engine: residual recall rows after erasure for agent %s: n=%d err=%v", agentID, n, err)
	}
	if n, err := m.archive.Count(ctx, agentID); err != nil || n != 0 {
		return fmt.Errorf("engine: residual archival records after erasure for agent %s: n=%d err=%v", agentID, n, err)
	}
	if n, err := m.indexMap.CountEntries(ctx, agentID); err != nil || n != 0 {
		return fmt.Errorf("engine: residual index map entries after erasure for agent %s: n=%d err=%v", agentID, n, err)
	}
	if stats := m.idx.Stats(agentID); stats.Slots != 0 {
		return fmt.Errorf("engine: residual index entries after erasure for agent %s: %+v", agentID, stats)
	}

	log.Printf("Erased agent %s (%d recall items, %d archival records)", agentID, itemCount, recCount)
	return nil
}

// EndSession closes out a session: it consolidates the session's raw
// events into conclusions and resets the turn counter.
func (m *Manager) EndSession(ctx context.Context, agentID, sessionID string) ([]string, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}

	var created []string
	var err error
	if m.pol.ShouldConsolidate(policy.SessionState{Ended: true}) {
		created, err = m.Consolidate(ctx, agentID, sessionID)
	}

	m.sessionMu.Lock()
	delete(m.sessions, sessionKey(agentID, sessionID))
	m.sessionMu.Unlock()

	return created, err
}

// rebuildAgent reconstructs the agent's index partition from the
// recall store and replaces the durable id map. Idempotent; safe to
// run while reads continue against the old partition. Callers hold the
// agent's mutation lock so no writer lands on the pre-swap partition;
// Start is the exception, running before any writer exists.
func (m *Manager) rebuildAgent(ctx context.Context, agentID string) error {
	items, err := m.recall.ListActive(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to load active items: %w", err)
	}

	seeds := make([]index.Seed, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		seeds = append(seeds, index.Seed{ItemID: item.ID, Vector: item.Embedding})
		m.mirror.put(item)
	}

	if err := m.idx.Rebuild(agentID, seeds); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}
	return m.persistEntries(ctx, agentID)
}

func (m *Manager) bumpTurns(agentID, sessionID string) int {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	key := sessionKey(agentID, sessionID)
	m.sessions[key]++
	return m.sessions[key]
}

func (m *Manager) clearSessions(agentID string) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	prefix := agentID + "/"
	for key := range m.sessions {
		if strings.HasPrefix(key, prefix) {
			delete(m.sessions, key)
		}
	}
}

func sessionKey(agentID, sessionID string) string {
	return agentID + "/" + sessionID
}
