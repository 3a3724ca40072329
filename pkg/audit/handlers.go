package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handlers provides the HTTP surface over the audit store. Authentication is
// handled upstream by the routing/auth layer; these handlers assume the
// request has already been authorized.
type Handlers struct {
	store    Store
	exporter *Exporter
	logger   *logrus.Logger
}

// NewHandlers creates audit HTTP handlers.
func NewHandlers(store Store, exporter *Exporter, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		store:    store,
		exporter: exporter,
		logger:   logger,
	}
}

// RegisterRoutes registers the audit API routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/logs", h.searchLogs).Methods("GET")
	router.HandleFunc("/audit/logs/{id}", h.getLog).Methods("GET")
	router.HandleFunc("/audit/statistics", h.getStatistics).Methods("GET")
	router.HandleFunc("/audit/export", h.exportLogs).Methods("GET")
	router.HandleFunc("/audit/resource/{resourceId}", h.getResourceAudits).Methods("GET")
	router.HandleFunc("/audit/user/{userId}", h.getUserAudits).Methods("GET")
}

// searchLogs handles GET /audit/logs
func (h *Handlers) searchLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, total, err := h.store.Search(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Audit log search failed")
		writeError(w, http.StatusInternalServerError, "Failed to search audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  entries,
		"total": total,
	})
}

// getLog handles GET /audit/logs/{id}
func (h *Handlers) getLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Audit log entry not found")
			return
		}
		h.logger.WithError(err).WithField("id", id).Error("Audit log lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to load audit log entry")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// getStatistics handles GET /audit/statistics
func (h *Handlers) getStatistics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.store.Aggregate(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Audit statistics aggregation failed")
		writeError(w, http.StatusInternalServerError, "Failed to compute audit statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// exportLogs handles GET /audit/export
func (h *Handlers) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	csv, err := h.exporter.Export(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to export audit logs")
		writeError(w, http.StatusInternalServerError, "Failed to export audit logs")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="audit-logs-%d.csv"`, time.Now().UnixMilli()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

// getResourceAudits handles GET /audit/resource/{resourceId}
func (h *Handlers) getResourceAudits(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["resourceId"]

	limit := DefaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.store.ByResource(r.Context(), resourceID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("resource_id", resourceID).Error("Resource audit trail lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to load resource audit trail")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// getUserAudits handles GET /audit/user/{userId}
func (h *Handlers) getUserAudits(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	limit := DefaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.store.ByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("User audit trail lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to load user audit trail")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// parseFilter builds a search filter from query parameters. Unknown enum
// values are rejected here, before the storage layer is involved.
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{
		Action:        Action(query.Get("action")),
		ResourceType:  ResourceType(query.Get("resourceType")),
		UserID:        query.Get("userId"),
		UserEmail:     query.Get("userEmail"),
		ResourceID:    query.Get("resourceId"),
		CorrelationID: query.Get("correlationId"),
		IPAddress:     query.Get("ipAddress"),
		Status:        Status(query.Get("status")),
		StartDate:     query.Get("startDate"),
		EndDate:       query.Get("endDate"),
	}

	if filter.Action != "" && !filter.Action.Valid() {
		return Filter{}, fmt.Errorf("unknown action %q", filter.Action)
	}
	if filter.ResourceType != "" && !filter.ResourceType.Valid() {
		return Filter{}, fmt.Errorf("unknown resource type %q", filter.ResourceType)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return Filter{}, fmt.Errorf("unknown status %q", filter.Status)
	}
	for _, date := range []string{filter.StartDate, filter.EndDate} {
		if date == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return Filter{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}
	}

	if skipStr := query.Get("skip"); skipStr != "" {
		skip, err := strconv.Atoi(skipStr)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid skip %q", skipStr)
		}
		filter.Skip = skip
	}
	if takeStr := query.Get("take"); takeStr != "" {
		take, err := strconv.Atoi(takeStr)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid take %q", takeStr)
		}
		filter.Take = take
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
