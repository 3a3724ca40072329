package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/certledger/audittrail/pkg/observability"
)

// Validation errors returned by Writer.Log before anything is persisted.
var (
	ErrMissingAction       = errors.New("audit: action is required")
	ErrUnknownAction       = errors.New("audit: unknown action")
	ErrMissingResourceType = errors.New("audit: resource type is required")
	ErrUnknownResourceType = errors.New("audit: unknown resource type")
	ErrUnknownStatus       = errors.New("audit: unknown status")
)

// Params is the input to Writer.Log. Action and ResourceType are required;
// everything else is optional with policy defaults.
type Params struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string

	UserID    string
	UserEmail string
	UserRole  string

	IPAddress     string
	UserAgent     string
	CorrelationID string

	TransactionHash string

	ResourceData json.RawMessage
	Changes      *Changes
	Metadata     map[string]interface{}

	Status       Status
	ErrorMessage string

	// Timestamp in epoch milliseconds; the current time is used when zero.
	Timestamp int64
}

// Writer validates and persists audit records. A persistence failure is
// surfaced to the caller unmodified; callers are expected to treat it as
// non-fatal to the operation they are recording.
type Writer struct {
	store   Store
	logger  *logrus.Logger
	metrics *observability.Metrics

	nowFunc func() time.Time
}

// NewWriter creates an audit writer on top of a store. metrics may be nil.
func NewWriter(store Store, logger *logrus.Logger, metrics *observability.Metrics) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{
		store:   store,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

// Log validates params, applies defaults, persists the entry, and returns it.
func (w *Writer) Log(ctx context.Context, params Params) (*LogEntry, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	entry := &LogEntry{
		ID:              uuid.NewString(),
		Action:          params.Action,
		ResourceType:    params.ResourceType,
		ResourceID:      params.ResourceID,
		UserID:          params.UserID,
		UserEmail:       params.UserEmail,
		UserRole:        params.UserRole,
		IPAddress:       params.IPAddress,
		UserAgent:       params.UserAgent,
		CorrelationID:   params.CorrelationID,
		TransactionHash: params.TransactionHash,
		ResourceData:    params.ResourceData,
		Changes:         params.Changes,
		Metadata:        params.Metadata,
		Status:          params.Status,
		ErrorMessage:    params.ErrorMessage,
		Timestamp:       params.Timestamp,
	}

	if entry.IPAddress == "" {
		entry.IPAddress = IPUnknown
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = w.nowFunc().UnixMilli()
	}

	if err := w.store.Insert(ctx, entry); err != nil {
		if w.metrics != nil {
			w.metrics.AuditWriteFailuresTotal.Inc()
		}
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":         entry.Action,
			"resource_type":  entry.ResourceType,
			"correlation_id": entry.CorrelationID,
		}).Error("Failed to persist audit log entry")
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.AuditEventsWrittenTotal.WithLabelValues(string(entry.Action), string(entry.Status)).Inc()
	}

	return entry, nil
}

func validateParams(params Params) error {
	if params.Action == "" {
		return ErrMissingAction
	}
	if !params.Action.Valid() {
		return ErrUnknownAction
	}
	if params.ResourceType == "" {
		return ErrMissingResourceType
	}
	if !params.ResourceType.Valid() {
		return ErrUnknownResourceType
	}
	if params.Status != "" && !params.Status.Valid() {
		return ErrUnknownStatus
	}
	return nil
}
