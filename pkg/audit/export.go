package audit

import (
	"context"
	"strings"
	"time"

	"github.com/certledger/audittrail/pkg/observability"
)

// ExportLimit is the row cap for bulk CSV export. It is deliberately larger
// than the search page cap since export is a bulk operation.
const ExportLimit = 50000

// EmptyExportResult is returned instead of a header-only document when no
// entries match the export filter.
const EmptyExportResult = "No audit logs found"

var exportHeader = []string{
	"ID",
	"Action",
	"Resource Type",
	"Resource ID",
	"User ID",
	"User Email",
	"IP Address",
	"Status",
	"Timestamp",
	"Error Message",
	"Correlation ID",
}

// Exporter renders filtered audit entries as CSV text.
type Exporter struct {
	store   Store
	metrics *observability.Metrics
}

// NewExporter creates a CSV exporter over a store. metrics may be nil.
func NewExporter(store Store, metrics *observability.Metrics) *Exporter {
	return &Exporter{
		store:   store,
		metrics: metrics,
	}
}

// Export searches with the given filter (capped at ExportLimit rows) and
// renders the result as CSV. Every field is quoted and embedded quotes are
// escaped by doubling; rows are newline-joined.
func (e *Exporter) Export(ctx context.Context, filter Filter) (string, error) {
	filter.Skip = 0
	filter.Take = ExportLimit

	entries, _, err := e.searchAll(ctx, filter)
	if err != nil {
		return "", err
	}

	if len(entries) == 0 {
		return EmptyExportResult, nil
	}

	if e.metrics != nil {
		e.metrics.ExportRowsTotal.Add(float64(len(entries)))
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, csvRow(exportHeader))

	for _, entry := range entries {
		lines = append(lines, csvRow([]string{
			entry.ID,
			string(entry.Action),
			string(entry.ResourceType),
			entry.ResourceID,
			entry.UserID,
			entry.UserEmail,
			entry.IPAddress,
			string(entry.Status),
			formatTimestamp(entry.Timestamp),
			entry.ErrorMessage,
			entry.CorrelationID,
		}))
	}

	return strings.Join(lines, "\n"), nil
}

// searchAll bypasses the normal page-size clamp so export can read up to
// ExportLimit rows in one pass.
func (e *Exporter) searchAll(ctx context.Context, filter Filter) ([]*LogEntry, int64, error) {
	collected := make([]*LogEntry, 0)
	var total int64

	for len(collected) < ExportLimit {
		page := filter
		page.Skip = filter.Skip + len(collected)
		page.Take = MaxPageSize

		entries, t, err := e.store.Search(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		total = t
		collected = append(collected, entries...)

		if len(entries) < MaxPageSize || int64(len(collected)) >= total {
			break
		}
	}

	if len(collected) > ExportLimit {
		collected = collected[:ExportLimit]
	}
	return collected, total, nil
}

// csvRow quotes every field and doubles embedded quote characters.
func csvRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// formatTimestamp renders an epoch-millisecond instant as ISO-8601 in UTC.
func formatTimestamp(millis int64) string {
	return time.UnixMilli(millis).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
