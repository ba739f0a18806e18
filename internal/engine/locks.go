package engine

import "sync"

// agentLocks serializes mutation per agent: upserts, consolidation,
// and forget operations for the same agent never interleave, while
// different agents and all reads proceed concurrently.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the agent's mutation lock and returns its unlock
// function.
func (a *agentLocks) Lock(agentID string) func() {
	a.mu.Lock()
	l, ok := a.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[agentID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
