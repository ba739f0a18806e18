package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested row does not exist under
	// the calling agent's scope. A row that exists under a different
	// agent produces the same error: callers cannot distinguish
	// "absent" from "not yours", so cross-agent existence never leaks.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that a write no longer matches the current
	// state it was planned against (e.g. the target item was superseded
	// concurrently). Callers retry once before surfacing it.
	ErrConflict = errors.New("conflicting concurrent write")
)

// ListOptions narrows recall item listings.
type ListOptions struct {
	// Limit is the maximum number of rows to return. 0 means the
	// backend default (100); negative means no limit. The unbounded
	// form backs index rebuilds and compliance exports, which must see
	// every row.
	Limit int

	// Kind filters by recall kind. Empty means all kinds.
	Kind string

	// IncludeInactive includes deactivated items. By default only
	// active items are returned.
	IncludeInactive bool
}

// Normalize applies defaults to the ListOptions. A negative Limit is
// preserved and means unbounded.
func (o *ListOptions) Normalize() {
	if o.Limit == 0 {
		o.Limit = 100
	}
}

// ArchiveFilters narrows archive listings and searches.
type ArchiveFilters struct {
	// SessionID restricts results to one session. Empty means any.
	SessionID string

	// Query is a keyword filter over record content. Empty means none.
	Query string

	// Before restricts to records created strictly before this time.
	// Zero means no upper bound.
	Before time.Time
}

// IndexMapEntry is one persisted row of the index id map: the durable
// record of where a recall item's vector lives in the similarity index.
// The map is written through after the authoritative recall row, and
// Rebuild treats the recall table as source of truth when the two
// disagree.
type IndexMapEntry struct {
	ItemID     string
	InternalID int
	Deleted    bool
}
