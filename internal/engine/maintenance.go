package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/stratamem/strata/internal/policy"
	"github.com/stratamem/strata/pkg/types"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Agents      int
	Reembedded  int
	Decayed     int
	Deactivated int
	Pruned      int
	Rebuilt     int
}

// RunMaintenance walks every agent and performs the background chores:
// re-embedding items that were stored without a vector, applying the
// forget policy to stale items, pruning expired archival records, and
// repairing index partitions that drifted from the durable map.
//
// The sweep never deletes recall items on its own. Policy proposals
// are clamped to deactivation at most; hard deletion happens only
// through an explicit Forget or a full agent erasure.
func (m *Manager) RunMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	if !m.running() {
		return nil, ErrNotStarted
	}

	agents, err := m.recall.Agents(ctx)
	if err != nil {
		return nil, err
	}

	report := &MaintenanceReport{Agents: len(agents)}
	for _, agentID := range agents {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.maintainAgent(ctx, agentID, report); err != nil {
			log.Printf("WARNING: maintenance failed for agent %s: %v", agentID, err)
		}
	}

	log.Printf("Maintenance pass complete: %d agents, %d re-embedded, %d decayed, %d deactivated, %d archive records pruned, %d partitions rebuilt",
		report.Agents, report.Reembedded, report.Decayed, report.Deactivated, report.Pruned, report.Rebuilt)
	return report, nil
}

func (m *Manager) maintainAgent(ctx context.Context, agentID string, report *MaintenanceReport) error {
	unlock := m.locks.Lock(agentID)
	defer unlock()

	if err := m.reembedMissing(ctx, agentID, report); err != nil {
		return err
	}
	if err := m.sweepForget(ctx, agentID, report); err != nil {
		return err
	}
	if m.cfg.ArchiveTTL > 0 {
		cutoff := time.Now().UTC().Add(-m.cfg.ArchiveTTL)
		n, err := m.archive.DeleteBefore(ctx, agentID, cutoff)
		if err != nil {
			return err
		}
		report.Pruned += n
	}
	return m.checkConsistency(ctx, agentID, report)
}

// reembedMissing retries embedding generation for items that were
// stored vector-less, indexing them once the vector is available.
func (m *Manager) reembedMissing(ctx context.Context, agentID string, report *MaintenanceReport) error {
	if m.embedder == nil {
		return nil
	}
	items, err := m.recall.ListMissingEmbeddings(ctx, agentID)
	if err != nil {
		return err
	}
	for _, item := range items {
		vec := m.embed(ctx, item.Content)
		if vec == nil {
			// Still unavailable; the next pass tries again.
			continue
		}
		item.Embedding = vec
		item.EmbeddingModel = m.embedder.Model()
		if err := m.recall.Update(ctx, item); err != nil {
			return err
		}
		if err := m.indexItem(ctx, item); err != nil {
			return err
		}
		m.mirror.put(item)
		report.Reembedded++
	}
	return nil
}

// sweepForget applies the forget policy to every active item. A delete
// proposal is clamped down to deactivation.
func (m *Manager) sweepForget(ctx context.Context, agentID string, report *MaintenanceReport) error {
	items, err := m.recall.ListActive(ctx, agentID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, item := range items {
		action := policy.ClampForget(policy.ForgetDeactivate, m.pol.ForgetPolicy(item, now))
		switch action {
		case policy.ForgetDecay:
			if err := m.decayItem(ctx, item); err != nil {
				return err
			}
			report.Decayed++
		case policy.ForgetDeactivate:
			if err := m.deactivateItem(ctx, item); err != nil {
				return err
			}
			report.Deactivated++
		}
	}
	return nil
}

func (m *Manager) decayItem(ctx context.Context, item *types.RecallItem) error {
	item.Confidence, item.Importance = m.pol.Decay(item)
	if err := m.recall.Update(ctx, item); err != nil {
		return err
	}
	m.mirror.put(item)
	return nil
}

// checkConsistency compares the durable map's live count against the
// in-memory index and rebuilds the partition on any mismatch.
func (m *Manager) checkConsistency(ctx context.Context, agentID string, report *MaintenanceReport) error {
	mapped, err := m.indexMap.CountEntries(ctx, agentID)
	if err != nil {
		return err
	}
	if live := m.idx.Stats(agentID).Live; live != mapped {
		log.Printf("WARNING: index drift for agent %s (index=%d map=%d), rebuilding", agentID, live, mapped)
		if err := m.rebuildAgent(ctx, agentID); err != nil {
			return errors.Join(ErrIndexInconsistency, err)
		}
		report.Rebuilt++
	}
	return nil
}
