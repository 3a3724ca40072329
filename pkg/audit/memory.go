package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation used for unit tests and
// local development. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*LogEntry

	// nowFunc is swappable in tests so that open-ended date ranges are
	// deterministic.
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nowFunc: time.Now,
	}
}

// Insert persists a single entry.
func (s *MemoryStore) Insert(ctx context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.nowFunc().UTC()
	}
	s.entries = append(s.entries, &stored)
	return nil
}

// Search returns one page of matching entries plus the total match count.
func (s *MemoryStore) Search(ctx context.Context, filter Filter) ([]*LogEntry, int64, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	matched, err := s.matching(filter)
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(matched))

	start := filter.Skip
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Take
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*LogEntry, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

// Aggregate computes statistics over the full filtered set.
func (s *MemoryStore) Aggregate(ctx context.Context, filter Filter) (*Statistics, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	matched, err := s.matching(filter)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TotalEvents:          int64(len(matched)),
		EventsByAction:       make(map[Action]int64),
		EventsByResourceType: make(map[ResourceType]int64),
		EventsByStatus:       make(map[Status]int64),
		EventsPerDay:         make(map[string]int64),
		TopUsers:             []UserActivity{},
		TopResources:         []ResourceActivity{},
	}

	perDay := make(map[string]int64)
	type userKey struct{ id, email string }
	type resourceKey struct {
		id string
		rt ResourceType
	}
	userCounts := make(map[userKey]int64)
	resourceCounts := make(map[resourceKey]int64)

	for _, e := range matched {
		stats.EventsByAction[e.Action]++
		stats.EventsByResourceType[e.ResourceType]++
		stats.EventsByStatus[e.Status]++
		perDay[time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02")]++
		userCounts[userKey{e.UserID, e.UserEmail}]++
		resourceCounts[resourceKey{e.ResourceID, e.ResourceType}]++
	}

	// Keep only the most recent distinct dates.
	dates := make([]string, 0, len(perDay))
	for d := range perDay {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > MaxStatsDays {
		dates = dates[:MaxStatsDays]
	}
	for _, d := range dates {
		stats.EventsPerDay[d] = perDay[d]
	}

	users := make([]UserActivity, 0, len(userCounts))
	for k, c := range userCounts {
		users = append(users, UserActivity{UserID: k.id, UserEmail: k.email, EventCount: c})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].EventCount != users[j].EventCount {
			return users[i].EventCount > users[j].EventCount
		}
		return users[i].UserID < users[j].UserID
	})
	if len(users) > MaxRankedUsers {
		users = users[:MaxRankedUsers]
	}
	stats.TopUsers = users

	resources := make([]ResourceActivity, 0, len(resourceCounts))
	for k, c := range resourceCounts {
		resources = append(resources, ResourceActivity{ResourceID: k.id, ResourceType: k.rt, EventCount: c})
	}
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].EventCount != resources[j].EventCount {
			return resources[i].EventCount > resources[j].EventCount
		}
		return resources[i].ResourceID < resources[j].ResourceID
	})
	if len(resources) > MaxRankedResources {
		resources = resources[:MaxRankedResources]
	}
	stats.TopResources = resources

	return stats, nil
}

// Get returns the entry with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// ByResource returns the most recent entries for a resource.
func (s *MemoryStore) ByResource(ctx context.Context, resourceID string, limit int) ([]*LogEntry, error) {
	return s.recentBy(func(e *LogEntry) bool { return e.ResourceID == resourceID }, limit)
}

// ByUser returns the most recent entries recorded for a user.
func (s *MemoryStore) ByUser(ctx context.Context, userID string, limit int) ([]*LogEntry, error) {
	return s.recentBy(func(e *LogEntry) bool { return e.UserID == userID }, limit)
}

func (s *MemoryStore) recentBy(match func(*LogEntry) bool, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*LogEntry, 0)
	for _, e := range s.entries {
		if match(e) {
			matched = append(matched, e)
		}
	}
	sortByTimestampDesc(matched)

	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*LogEntry, len(matched))
	copy(out, matched)
	return out, nil
}

// DeleteOlderThan removes every entry with timestamp <= cutoffMillis. Kept
// entries move to a fresh slice so deleted ones don't stay reachable through
// the old backing array.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*LogEntry, 0, len(s.entries))
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp <= cutoffMillis {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// matching returns all entries satisfying the filter predicates, ordered by
// timestamp descending with insertion order breaking ties.
func (s *MemoryStore) matching(filter Filter) ([]*LogEntry, error) {
	startMillis, endMillis, hasRange, err := filter.TimeRange(s.nowFunc())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*LogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !entryMatches(e, filter, startMillis, endMillis, hasRange) {
			continue
		}
		matched = append(matched, e)
	}
	sortByTimestampDesc(matched)
	return matched, nil
}

func entryMatches(e *LogEntry, f Filter, startMillis, endMillis int64, hasRange bool) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.UserEmail != "" && !strings.Contains(strings.ToLower(e.UserEmail), strings.ToLower(f.UserEmail)) {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if hasRange && (e.Timestamp < startMillis || e.Timestamp > endMillis) {
		return false
	}
	return true
}

func sortByTimestampDesc(entries []*LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
}
