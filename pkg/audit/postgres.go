package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements Store on top of PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed audit store and ensures the
// audit_logs table exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &PostgresStore{
		db:      db,
		nowFunc: time.Now,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return store, nil
}

// ensureTable creates the audit_logs table and its indexes if they don't exist.
func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(50) NOT NULL,
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		user_email VARCHAR(255) NOT NULL DEFAULT '',
		user_role VARCHAR(100) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		correlation_id VARCHAR(100) NOT NULL DEFAULT '',
		transaction_hash VARCHAR(255) NOT NULL DEFAULT '',
		resource_data JSONB,
		changes JSONB,
		metadata JSONB,
		status VARCHAR(20) NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		timestamp BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource_type ON audit_logs(resource_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource_id ON audit_logs(resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation_id ON audit_logs(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_ip_address ON audit_logs(ip_address);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_status ON audit_logs(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert persists a single entry as one INSERT statement.
func (s *PostgresStore) Insert(ctx context.Context, entry *LogEntry) error {
	var changesJSON, metadataJSON []byte
	var err error

	if entry.Changes != nil {
		changesJSON, err = json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, action, resource_type, resource_id,
			user_id, user_email, user_role,
			ip_address, user_agent, correlation_id, transaction_hash,
			resource_data, changes, metadata,
			status, error_message, timestamp
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17
		) RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		entry.ID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.UserID, entry.UserEmail, entry.UserRole,
		entry.IPAddress, entry.UserAgent, entry.CorrelationID, entry.TransactionHash,
		nullableJSON(entry.ResourceData), nullableJSON(changesJSON), nullableJSON(metadataJSON),
		entry.Status, entry.ErrorMessage, entry.Timestamp,
	).Scan(&entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Search returns one page of matching entries plus the total match count.
func (s *PostgresStore) Search(ctx context.Context, filter Filter) ([]*LogEntry, int64, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	whereClause, args, err := s.buildWhere(filter)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_logs" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := selectColumns + whereClause +
		fmt.Sprintf(" ORDER BY timestamp DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Take, filter.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// Aggregate computes statistics with GROUP BY queries over the filtered set.
func (s *PostgresStore) Aggregate(ctx context.Context, filter Filter) (*Statistics, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	whereClause, args, err := s.buildWhere(filter)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		EventsByAction:       make(map[Action]int64),
		EventsByResourceType: make(map[ResourceType]int64),
		EventsByStatus:       make(map[Status]int64),
		EventsPerDay:         make(map[string]int64),
		TopUsers:             []UserActivity{},
		TopResources:         []ResourceActivity{},
	}

	// Total events
	countQuery := "SELECT COUNT(*) FROM audit_logs" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	// Events by action
	if err := s.groupCount(ctx, "action", whereClause, args, func(key string, count int64) {
		stats.EventsByAction[Action(key)] = count
	}); err != nil {
		return nil, err
	}

	// Events by resource type
	if err := s.groupCount(ctx, "resource_type", whereClause, args, func(key string, count int64) {
		stats.EventsByResourceType[ResourceType(key)] = count
	}); err != nil {
		return nil, err
	}

	// Events by status
	if err := s.groupCount(ctx, "status", whereClause, args, func(key string, count int64) {
		stats.EventsByStatus[Status(key)] = count
	}); err != nil {
		return nil, err
	}

	// Events per day, most recent distinct dates first. Bucketing is pinned
	// to UTC so histogram dates don't depend on the server session timezone.
	perDayQuery := fmt.Sprintf(
		"SELECT DATE(to_timestamp(timestamp / 1000) AT TIME ZONE 'UTC')::text, COUNT(*) FROM audit_logs%s GROUP BY 1 ORDER BY 1 DESC LIMIT %d",
		whereClause, MaxStatsDays,
	)
	rows, err := s.db.QueryContext(ctx, perDayQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events per day: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var date string
		var count int64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, err
		}
		stats.EventsPerDay[date] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Top users by event count
	topUsersQuery := fmt.Sprintf(
		"SELECT user_id, user_email, COUNT(*) AS event_count FROM audit_logs%s GROUP BY user_id, user_email ORDER BY event_count DESC LIMIT %d",
		whereClause, MaxRankedUsers,
	)
	rows, err = s.db.QueryContext(ctx, topUsersQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get top users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ua UserActivity
		if err := rows.Scan(&ua.UserID, &ua.UserEmail, &ua.EventCount); err != nil {
			return nil, err
		}
		stats.TopUsers = append(stats.TopUsers, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Top resources by event count
	topResourcesQuery := fmt.Sprintf(
		"SELECT resource_id, resource_type, COUNT(*) AS event_count FROM audit_logs%s GROUP BY resource_id, resource_type ORDER BY event_count DESC LIMIT %d",
		whereClause, MaxRankedResources,
	)
	rows, err = s.db.QueryContext(ctx, topResourcesQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get top resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ra ResourceActivity
		if err := rows.Scan(&ra.ResourceID, &ra.ResourceType, &ra.EventCount); err != nil {
			return nil, err
		}
		stats.TopResources = append(stats.TopResources, ra)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// Get returns the entry with the given id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// ByResource returns the most recent entries for a resource.
func (s *PostgresStore) ByResource(ctx context.Context, resourceID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := selectColumns + " WHERE resource_id = $1 ORDER BY timestamp DESC, created_at DESC LIMIT $2"
	rows, err := s.db.QueryContext(ctx, query, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource audit trail: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByUser returns the most recent entries recorded for a user.
func (s *PostgresStore) ByUser(ctx context.Context, userID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := selectColumns + " WHERE user_id = $1 ORDER BY timestamp DESC, created_at DESC LIMIT $2"
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query user audit trail: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes every entry with timestamp <= cutoffMillis.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp <= $1", cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	return deleted, nil
}

const selectColumns = `
	SELECT
		id, action, resource_type, resource_id,
		user_id, user_email, user_role,
		ip_address, user_agent, correlation_id, transaction_hash,
		resource_data, changes, metadata,
		status, error_message, timestamp, created_at
	FROM audit_logs`

// buildWhere translates the filter into a WHERE clause with numbered args.
func (s *PostgresStore) buildWhere(filter Filter) (string, []interface{}, error) {
	query := ""
	args := []interface{}{}
	argCount := 1

	addCondition := func(condition string, value interface{}) {
		if query == "" {
			query = " WHERE "
		} else {
			query += " AND "
		}
		query += fmt.Sprintf(condition, argCount)
		args = append(args, value)
		argCount++
	}

	if filter.Action != "" {
		addCondition("action = $%d", string(filter.Action))
	}
	if filter.ResourceType != "" {
		addCondition("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.UserID != "" {
		addCondition("user_id = $%d", filter.UserID)
	}
	if filter.UserEmail != "" {
		addCondition("user_email ILIKE $%d", "%"+filter.UserEmail+"%")
	}
	if filter.ResourceID != "" {
		addCondition("resource_id = $%d", filter.ResourceID)
	}
	if filter.CorrelationID != "" {
		addCondition("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.IPAddress != "" {
		addCondition("ip_address = $%d", filter.IPAddress)
	}
	if filter.Status != "" {
		addCondition("status = $%d", string(filter.Status))
	}

	startMillis, endMillis, hasRange, err := filter.TimeRange(s.nowFunc())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if hasRange {
		if query == "" {
			query = " WHERE "
		} else {
			query += " AND "
		}
		query += fmt.Sprintf("timestamp BETWEEN $%d AND $%d", argCount, argCount+1)
		args = append(args, startMillis, endMillis)
	}

	return query, args, nil
}

// groupCount runs a single-column GROUP BY count query.
func (s *PostgresStore) groupCount(ctx context.Context, column, whereClause string, args []interface{}, visit func(key string, count int64)) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs%s GROUP BY %s", column, whereClause, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to group audit logs by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		visit(key, count)
	}
	return rows.Err()
}

func scanEntries(rows *sql.Rows) ([]*LogEntry, error) {
	entries := make([]*LogEntry, 0)
	for rows.Next() {
		entry := &LogEntry{}

		var resourceDataJSON, changesJSON, metadataJSON []byte

		err := rows.Scan(
			&entry.ID, &entry.Action, &entry.ResourceType, &entry.ResourceID,
			&entry.UserID, &entry.UserEmail, &entry.UserRole,
			&entry.IPAddress, &entry.UserAgent, &entry.CorrelationID, &entry.TransactionHash,
			&resourceDataJSON, &changesJSON, &metadataJSON,
			&entry.Status, &entry.ErrorMessage, &entry.Timestamp, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if len(resourceDataJSON) > 0 {
			entry.ResourceData = json.RawMessage(resourceDataJSON)
		}
		if len(changesJSON) > 0 {
			entry.Changes = &Changes{}
			if err := json.Unmarshal(changesJSON, entry.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			entry.Metadata = make(map[string]interface{})
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}

// nullableJSON maps empty JSON payloads to NULL so JSONB columns stay null
// for absent fields.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
