package engine

import (
	"errors"
	"time"

	"github.com/stratamem/strata/internal/llm"
)

// ErrNotStarted is returned by operations invoked before Start or
// after Stop.
var ErrNotStarted = errors.New("engine: not started")

// ErrIndexInconsistency marks a mismatch between the similarity index
// map and the recall store. It is never ignored: the manager rebuilds
// the agent's partition as soon as it is detected.
var ErrIndexInconsistency = errors.New("engine: index inconsistency")

// ErrEditNotAllowed is returned when the policy edit gate denies a
// direct content edit.
var ErrEditNotAllowed = errors.New("engine: edits not allowed by policy")

// Config holds the manager's tunables.
type Config struct {
	// RetrieveLimit is the default k for retrieval when the caller
	// passes 0.
	RetrieveLimit int `yaml:"retrieve_limit"`

	// Overfetch multiplies k on index queries so that inactive or
	// expired hits can be filtered out without starving the result.
	Overfetch int `yaml:"overfetch"`

	// ConsolidateMin and ConsolidateMax bound how many candidates one
	// consolidation pass may propose.
	ConsolidateMin int `yaml:"consolidate_min"`
	ConsolidateMax int `yaml:"consolidate_max"`

	// MirrorSize is the per-process capacity of the hot recall mirror.
	MirrorSize int `yaml:"mirror_size"`

	// ArchiveTTL prunes archival records older than this during
	// maintenance. 0 disables pruning.
	ArchiveTTL time.Duration `yaml:"archive_ttl"`

	// ConsolidateRecent is how many recent archive records feed one
	// consolidation prompt.
	ConsolidateRecent int `yaml:"consolidate_recent"`

	// Retry governs embedding and completion calls.
	Retry llm.RetryConfig `yaml:"retry"`
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if c.RetrieveLimit <= 0 {
		c.RetrieveLimit = 10
	}
	if c.Overfetch <= 0 {
		c.Overfetch = 3
	}
	if c.ConsolidateMin <= 0 {
		c.ConsolidateMin = 3
	}
	if c.ConsolidateMax <= 0 {
		c.ConsolidateMax = 8
	}
	if c.ConsolidateMax < c.ConsolidateMin {
		c.ConsolidateMax = c.ConsolidateMin
	}
	if c.MirrorSize <= 0 {
		c.MirrorSize = 1024
	}
	if c.ConsolidateRecent <= 0 {
		c.ConsolidateRecent = 40
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.Normalize()
	return c
}
