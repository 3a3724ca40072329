package audit

import (
	"context"
	"errors"
)

// ErrInvalidFilter is returned when a search filter fails validation before
// reaching the storage layer.
var ErrInvalidFilter = errors.New("invalid audit search filter")

// ErrNotFound is returned by Get when no entry exists with the requested id.
var ErrNotFound = errors.New("audit log entry not found")

// Store is the persistence contract for audit log entries. Entries are
// append-only: there is no update operation, and deletion happens only in
// bulk through DeleteOlderThan.
type Store interface {
	// Insert persists a single entry as one atomic operation.
	Insert(ctx context.Context, entry *LogEntry) error

	// Search returns one page of entries matching the filter, ordered by
	// timestamp descending, together with the total number of matching
	// entries ignoring pagination.
	Search(ctx context.Context, filter Filter) ([]*LogEntry, int64, error)

	// Aggregate computes statistics over the full filtered set.
	Aggregate(ctx context.Context, filter Filter) (*Statistics, error)

	// Get returns the entry with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*LogEntry, error)

	// ByResource returns the most recent entries for a resource, ordered by
	// timestamp descending.
	ByResource(ctx context.Context, resourceID string, limit int) ([]*LogEntry, error)

	// ByUser returns the most recent entries recorded for a user, ordered by
	// timestamp descending.
	ByUser(ctx context.Context, userID string, limit int) ([]*LogEntry, error)

	// DeleteOlderThan removes every entry whose timestamp is less than or
	// equal to cutoffMillis and returns the number of deleted entries.
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error)
}

// validateFilter rejects enum predicates outside their closed sets and
// malformed dates before any storage work happens.
func validateFilter(filter Filter) error {
	if filter.Action != "" && !filter.Action.Valid() {
		return ErrInvalidFilter
	}
	if filter.ResourceType != "" && !filter.ResourceType.Valid() {
		return ErrInvalidFilter
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return ErrInvalidFilter
	}
	return nil
}
