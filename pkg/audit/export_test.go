package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("empty result returns the sentinel string", func(t *testing.T) {
		exporter := NewExporter(NewMemoryStore(), nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, "No audit logs found", out)
	})

	t.Run("one row per entry plus header", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store,
			&LogEntry{ID: "a", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1},
			&LogEntry{ID: "b", Action: ActionUserLogout, ResourceType: ResourceTypeUser, Timestamp: 2},
			&LogEntry{ID: "c", Action: ActionCertificateIssue, ResourceType: ResourceTypeCertificate, Timestamp: 3},
		)
		exporter := NewExporter(store, nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)

		lines := strings.Split(out, "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, `"ID","Action","Resource Type","Resource ID","User ID","User Email","IP Address","Status","Timestamp","Error Message","Correlation ID"`, lines[0])
	})

	t.Run("every field is quoted and quotes are doubled", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store, &LogEntry{
			ID:           "q",
			Action:       ActionCertificateRevoke,
			ResourceType: ResourceTypeCertificate,
			ErrorMessage: `revoked: reason "compromised key"`,
			Status:       StatusError,
			Timestamp:    1700000000000,
		})
		exporter := NewExporter(store, nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)

		lines := strings.Split(out, "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[1], `"revoked: reason ""compromised key"""`)
		for _, field := range strings.Split(lines[1], `","`) {
			assert.NotEmpty(t, field)
		}
	})

	t.Run("timestamp is rendered as an ISO-8601 instant", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store, &LogEntry{
			ID:           "ts",
			Action:       ActionUserLogin,
			ResourceType: ResourceTypeUser,
			Timestamp:    1700000000000,
		})
		exporter := NewExporter(store, nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)
		assert.Contains(t, out, `"2023-11-14T22:13:20.000Z"`)
	})

	t.Run("absent optional fields become empty strings", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store, &LogEntry{
			ID:           "bare",
			Action:       ActionUserLogin,
			ResourceType: ResourceTypeUser,
			Timestamp:    1,
		})
		exporter := NewExporter(store, nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)

		lines := strings.Split(out, "\n")
		require.Len(t, lines, 2)
		// resource id, user id, user email are all absent
		assert.Contains(t, lines[1], `"bare","user.login","USER","","","",`)
	})

	t.Run("export respects the filter", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store,
			&LogEntry{ID: "in", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1},
			&LogEntry{ID: "out", Action: ActionUserLogout, ResourceType: ResourceTypeUser, Timestamp: 2},
		)
		exporter := NewExporter(store, nil)

		csv, err := exporter.Export(ctx, Filter{Action: ActionUserLogin})
		require.NoError(t, err)

		lines := strings.Split(csv, "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[1], `"in",`))
	})

	t.Run("export reads past the search page cap", func(t *testing.T) {
		store := NewMemoryStore()
		for i := 0; i < MaxPageSize+25; i++ {
			mustInsert(t, store, &LogEntry{
				ID:           "bulk-" + string(rune('a'+i%26)) + "-" + string(rune('a'+i/26)),
				Action:       ActionUserLogin,
				ResourceType: ResourceTypeUser,
				Timestamp:    int64(i),
			})
		}
		exporter := NewExporter(store, nil)

		out, err := exporter.Export(ctx, Filter{})
		require.NoError(t, err)
		lines := strings.Split(out, "\n")
		assert.Len(t, lines, MaxPageSize+25+1)
	})
}
