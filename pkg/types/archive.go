package types

import "time"

// Role identifies the speaker of a conversational event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Event is a single conversational turn handed to the memory manager.
// Events are always archived; the policy engine decides whether they
// additionally yield a recall candidate.
type Event struct {
	SessionID string   `json:"session_id"`
	TurnID    int      `json:"turn_id"`
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
}

// ArchivalRecord is immutable raw material in the cold tier: one event
// as it was persisted. Records are append-only; the only mutation is
// deletion for privacy erasure.
type ArchivalRecord struct {
	ID        string    `json:"id"`       // ULID, sorts by insertion time
	AgentID   string    `json:"agent_id"` // Partition key
	SessionID string    `json:"session_id"`
	TurnID    int       `json:"turn_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
