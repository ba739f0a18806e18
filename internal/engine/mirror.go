package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stratamem/strata/pkg/types"
)

// mirror is the in-process hot cache of recall items, keyed by
// (agent_id, item_id). It only ever holds copies of durable rows:
// every write path updates the store first and then the mirror, and
// invalidation on any doubt is always safe. Eviction is LRU.
type mirror struct {
	cache *lru.Cache[mirrorKey, *types.RecallItem]
}

type mirrorKey struct {
	agentID string
	itemID  string
}

func newMirror(size int) (*mirror, error) {
	cache, err := lru.New[mirrorKey, *types.RecallItem](size)
	if err != nil {
		return nil, err
	}
	return &mirror{cache: cache}, nil
}

func (m *mirror) get(agentID, itemID string) (*types.RecallItem, bool) {
	return m.cache.Get(mirrorKey{agentID, itemID})
}

func (m *mirror) put(item *types.RecallItem) {
	if item == nil {
		return
	}
	m.cache.Add(mirrorKey{item.AgentID, item.ID}, item)
}

func (m *mirror) invalidate(agentID, itemID string) {
	m.cache.Remove(mirrorKey{agentID, itemID})
}

// dropAgent removes every cached item for the agent.
func (m *mirror) dropAgent(agentID string) {
	for _, key := range m.cache.Keys() {
		if key.agentID == agentID {
			m.cache.Remove(key)
		}
	}
}

func (m *mirror) purge() {
	m.cache.Purge()
}
