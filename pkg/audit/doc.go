// Package audit provides an append-only audit trail with filtered search,
// aggregate statistics, CSV export, and retention-based cleanup.
//
// # Overview
//
// Every significant action in the surrounding application (logins,
// certificate issuance, revocations, background jobs) is recorded as an
// immutable LogEntry tagged with the originating request's identity and
// correlation id. Entries are never mutated after being written; the only
// deletion path is the bulk retention cleaner.
//
// # Usage Example
//
// Record an event:
//
//	entry, err := writer.Log(ctx, audit.Params{
//		Action:       audit.ActionUserLogin,
//		ResourceType: audit.ResourceTypeUser,
//		UserID:       user.ID,
//		IPAddress:    rc.IPAddress,
//		CorrelationID: rc.CorrelationID,
//	})
//
// Search entries:
//
//	entries, total, err := store.Search(ctx, audit.Filter{
//		Action: audit.ActionUserLogin,
//		Status: audit.StatusFailure,
//		Take:   50,
//	})
//
// # Retention
//
// Default: 90 days. The Cleaner runs on a daily cron schedule, records
// job.start/job.complete (or job.failed) entries around each pass, and never
// propagates errors to its scheduler.
//
// # Related Packages
//
//   - pkg/requestctx: correlation-id propagation and the live context store
//   - pkg/observability: logging and metrics collaborators
package audit
