package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store Store) *mux.Router {
	router := mux.NewRouter()
	handlers := NewHandlers(store, NewExporter(store, nil), nil)
	handlers.RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_SearchLogs(t *testing.T) {
	t.Run("returns data and total", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store,
			&LogEntry{ID: "a", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1},
			&LogEntry{ID: "b", Action: ActionUserLogout, ResourceType: ResourceTypeUser, Timestamp: 2},
		)
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/logs")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Data  []*LogEntry `json:"data"`
			Total int64       `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(2), body.Total)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "b", body.Data[0].ID)
	})

	t.Run("filters come from query parameters", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store,
			&LogEntry{ID: "in", Action: ActionUserLogin, ResourceType: ResourceTypeUser, UserID: "u1", Timestamp: 1},
			&LogEntry{ID: "out", Action: ActionUserLogin, ResourceType: ResourceTypeUser, UserID: "u2", Timestamp: 2},
		)
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/logs?action=user.login&userId=u1")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data  []*LogEntry `json:"data"`
			Total int64       `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(1), body.Total)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "in", body.Data[0].ID)
	})

	t.Run("unknown enum value is a 400", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())

		rec := doRequest(t, router, "/audit/logs?action=bogus")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "unknown action")
	})

	t.Run("malformed date is a 400", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())
		rec := doRequest(t, router, "/audit/logs?startDate=10/03/2024")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-numeric skip is a 400", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())
		rec := doRequest(t, router, "/audit/logs?skip=many")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		store := &brokenStore{}
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/logs")
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Failed to search audit logs", body["error"])
	})
}

func TestHandlers_GetLog(t *testing.T) {
	t.Run("returns a single entry by id", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store, &LogEntry{ID: "wanted", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1})
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/logs/wanted")
		require.Equal(t, http.StatusOK, rec.Code)

		var entry LogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
		assert.Equal(t, "wanted", entry.ID)
		assert.Equal(t, ActionUserLogin, entry.Action)
	})

	t.Run("unknown id is a 404", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())

		rec := doRequest(t, router, "/audit/logs/missing")
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Audit log entry not found", body["error"])
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		router := newTestRouter(&brokenStore{})
		rec := doRequest(t, router, "/audit/logs/any")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandlers_GetUserAudits(t *testing.T) {
	t.Run("returns the trail for one user", func(t *testing.T) {
		store := NewMemoryStore()
		for i := 0; i < 5; i++ {
			mustInsert(t, store, &LogEntry{
				ID:           fmt.Sprintf("u%d", i),
				Action:       ActionUserUpdate,
				ResourceType: ResourceTypeUser,
				UserID:       "user-7",
				Timestamp:    int64(i),
			})
		}
		mustInsert(t, store, &LogEntry{
			ID:           "other",
			Action:       ActionUserLogin,
			ResourceType: ResourceTypeUser,
			UserID:       "user-8",
			Timestamp:    99,
		})
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/user/user-7?limit=3")
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []*LogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 3)
		assert.Equal(t, int64(4), entries[0].Timestamp)
		for _, e := range entries {
			assert.Equal(t, "user-7", e.UserID)
		}
	})

	t.Run("non-numeric limit is a 400", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())
		rec := doRequest(t, router, "/audit/user/user-7?limit=lots")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_GetStatistics(t *testing.T) {
	store := NewMemoryStore()
	mustInsert(t, store,
		&LogEntry{ID: "a", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1},
		&LogEntry{ID: "b", Action: ActionCertificateIssue, ResourceType: ResourceTypeCertificate, Timestamp: 2},
	)
	router := newTestRouter(store)

	rec := doRequest(t, router, "/audit/statistics")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsByAction[ActionUserLogin])
}

func TestHandlers_ExportLogs(t *testing.T) {
	t.Run("serves CSV as an attachment", func(t *testing.T) {
		store := NewMemoryStore()
		mustInsert(t, store, &LogEntry{ID: "a", Action: ActionUserLogin, ResourceType: ResourceTypeUser, Timestamp: 1})
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/export")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

		disposition := rec.Header().Get("Content-Disposition")
		assert.True(t, strings.HasPrefix(disposition, `attachment; filename="audit-logs-`))
		assert.True(t, strings.HasSuffix(disposition, `.csv"`))

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		lines := strings.Split(string(body), "\n")
		assert.Len(t, lines, 2)
	})

	t.Run("empty export still returns the sentinel body", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())

		rec := doRequest(t, router, "/audit/export")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "No audit logs found", rec.Body.String())
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		router := newTestRouter(&brokenStore{})

		rec := doRequest(t, router, "/audit/export")
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Failed to export audit logs", body["error"])
	})
}

func TestHandlers_GetResourceAudits(t *testing.T) {
	t.Run("returns the trail for one resource", func(t *testing.T) {
		store := NewMemoryStore()
		for i := 0; i < 5; i++ {
			mustInsert(t, store, &LogEntry{
				ID:           fmt.Sprintf("e%d", i),
				Action:       ActionCertificateRenew,
				ResourceType: ResourceTypeCertificate,
				ResourceID:   "cert-7",
				Timestamp:    int64(i),
			})
		}
		router := newTestRouter(store)

		rec := doRequest(t, router, "/audit/resource/cert-7?limit=3")
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []*LogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 3)
		assert.Equal(t, int64(4), entries[0].Timestamp)
	})

	t.Run("non-numeric limit is a 400", func(t *testing.T) {
		router := newTestRouter(NewMemoryStore())
		rec := doRequest(t, router, "/audit/resource/cert-7?limit=lots")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// brokenStore fails every operation.
type brokenStore struct{}

var errStoreBroken = errors.New("store unavailable")

func (s *brokenStore) Insert(ctx context.Context, entry *LogEntry) error { return errStoreBroken }

func (s *brokenStore) Search(ctx context.Context, filter Filter) ([]*LogEntry, int64, error) {
	return nil, 0, errStoreBroken
}

func (s *brokenStore) Aggregate(ctx context.Context, filter Filter) (*Statistics, error) {
	return nil, errStoreBroken
}

func (s *brokenStore) Get(ctx context.Context, id string) (*LogEntry, error) {
	return nil, errStoreBroken
}

func (s *brokenStore) ByUser(ctx context.Context, userID string, limit int) ([]*LogEntry, error) {
	return nil, errStoreBroken
}

func (s *brokenStore) ByResource(ctx context.Context, resourceID string, limit int) ([]*LogEntry, error) {
	return nil, errStoreBroken
}

func (s *brokenStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error) {
	return 0, errStoreBroken
}
