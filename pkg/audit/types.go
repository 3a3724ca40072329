package audit

import (
	"encoding/json"
	"time"
)

// Action represents the kind of event being recorded. The set is closed;
// new event kinds are added here, never as free-form strings.
type Action string

const (
	// Authentication events
	ActionUserLogin       Action = "user.login"
	ActionUserLogout      Action = "user.logout"
	ActionUserLoginFailed Action = "user.login_failed"

	// User lifecycle events
	ActionUserCreate Action = "user.create"
	ActionUserUpdate Action = "user.update"
	ActionUserDelete Action = "user.delete"

	// Certificate events
	ActionCertificateIssue  Action = "certificate.issue"
	ActionCertificateRenew  Action = "certificate.renew"
	ActionCertificateRevoke Action = "certificate.revoke"
	ActionCertificateVerify Action = "certificate.verify"

	// Issuer events
	ActionIssuerCreate Action = "issuer.create"
	ActionIssuerUpdate Action = "issuer.update"
	ActionIssuerDelete Action = "issuer.delete"

	// Background job events
	ActionJobStart    Action = "job.start"
	ActionJobComplete Action = "job.complete"
	ActionJobFailed   Action = "job.failed"
)

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionUserLogin, ActionUserLogout, ActionUserLoginFailed,
		ActionUserCreate, ActionUserUpdate, ActionUserDelete,
		ActionCertificateIssue, ActionCertificateRenew, ActionCertificateRevoke, ActionCertificateVerify,
		ActionIssuerCreate, ActionIssuerUpdate, ActionIssuerDelete,
		ActionJobStart, ActionJobComplete, ActionJobFailed:
		return true
	}
	return false
}

// ResourceType represents the category of the thing acted upon
type ResourceType string

const (
	ResourceTypeUser        ResourceType = "USER"
	ResourceTypeCertificate ResourceType = "CERTIFICATE"
	ResourceTypeIssuer      ResourceType = "ISSUER"
	ResourceTypeSystem      ResourceType = "SYSTEM"
	ResourceTypeAuth        ResourceType = "AUTH"
)

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceTypeUser, ResourceTypeCertificate, ResourceTypeIssuer, ResourceTypeSystem, ResourceTypeAuth:
		return true
	}
	return false
}

// Status represents the outcome of a recorded action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusError:
		return true
	}
	return false
}

// Sentinel IP address values used when no client address is available.
const (
	IPUnknown = "unknown"
	IPSystem  = "system"
)

// Changes tracks before/after snapshots for update events. The payloads are
// stored opaquely; no schema is enforced.
type Changes struct {
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// LogEntry is one immutable audit record. Once persisted an entry is never
// mutated, only deleted in bulk by the retention cleaner.
type LogEntry struct {
	ID           string       `json:"id"`
	Action       Action       `json:"action"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId,omitempty"`

	// Actor identity, empty for system-originated events
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	UserRole  string `json:"userRole,omitempty"`

	// Request provenance
	IPAddress     string `json:"ipAddress"`
	UserAgent     string `json:"userAgent,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	// Opaque external-ledger reference
	TransactionHash string `json:"transactionHash,omitempty"`

	// Opaque structured payloads
	ResourceData json.RawMessage        `json:"resourceData,omitempty"`
	Changes      *Changes               `json:"changes,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Timestamp is an epoch-millisecond instant. All ordering and retention
	// decisions use this field, not CreatedAt.
	Timestamp int64 `json:"timestamp"`

	// CreatedAt is assigned by the storage layer, kept for audit-of-the-audit
	// purposes only.
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Filter is the set of optional search predicates. All supplied predicates
// are combined with AND.
type Filter struct {
	Action        Action
	ResourceType  ResourceType
	UserID        string
	UserEmail     string // case-insensitive substring match
	ResourceID    string
	CorrelationID string
	IPAddress     string
	Status        Status

	// Calendar dates in "2006-01-02" form. The end date is inclusive of the
	// whole day: the upper bound is the parsed date plus 24 hours.
	StartDate string
	EndDate   string

	// Pagination. Skip defaults to 0; Take defaults to 50 and is clamped to
	// MaxPageSize.
	Skip int
	Take int
}

// Pagination bounds applied by Normalize.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// endOfDayOffset is the literal 24-hour adjustment applied to the parsed end
// date so that a range query includes the entire end day.
const endOfDayOffset = int64(24 * time.Hour / time.Millisecond)

// Normalize applies pagination defaults and the hard page-size cap.
func (f Filter) Normalize() Filter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Take <= 0 {
		f.Take = DefaultPageSize
	}
	if f.Take > MaxPageSize {
		f.Take = MaxPageSize
	}
	return f
}

// TimeRange resolves the StartDate/EndDate predicates into an inclusive
// epoch-millisecond range. ok is false when neither date is supplied.
func (f Filter) TimeRange(now time.Time) (startMillis, endMillis int64, ok bool, err error) {
	if f.StartDate == "" && f.EndDate == "" {
		return 0, 0, false, nil
	}

	startMillis = 0
	if f.StartDate != "" {
		t, perr := time.Parse("2006-01-02", f.StartDate)
		if perr != nil {
			return 0, 0, false, perr
		}
		startMillis = t.UnixMilli()
	}

	endMillis = now.UnixMilli()
	if f.EndDate != "" {
		t, perr := time.Parse("2006-01-02", f.EndDate)
		if perr != nil {
			return 0, 0, false, perr
		}
		endMillis = t.UnixMilli() + endOfDayOffset
	}

	return startMillis, endMillis, true, nil
}

// UserActivity is one row of the top-users ranking.
type UserActivity struct {
	UserID     string `json:"userId"`
	UserEmail  string `json:"userEmail"`
	EventCount int64  `json:"eventCount"`
}

// ResourceActivity is one row of the top-resources ranking.
type ResourceActivity struct {
	ResourceID   string       `json:"resourceId"`
	ResourceType ResourceType `json:"resourceType"`
	EventCount   int64        `json:"eventCount"`
}

// Statistics is the aggregate view over a filtered set of entries. All
// groupings are computed over the full filtered set, never a single page.
type Statistics struct {
	TotalEvents          int64                  `json:"totalEvents"`
	EventsByAction       map[Action]int64       `json:"eventsByAction"`
	EventsByResourceType map[ResourceType]int64 `json:"eventsByResourceType"`
	EventsByStatus       map[Status]int64       `json:"eventsByStatus"`

	// EventsPerDay maps "2006-01-02" dates to counts, limited to the 30 most
	// recent distinct dates.
	EventsPerDay map[string]int64 `json:"eventsPerDay"`

	TopUsers     []UserActivity     `json:"topUsers"`
	TopResources []ResourceActivity `json:"topResources"`
}

// Limits applied by the statistics aggregation.
const (
	MaxStatsDays       = 30
	MaxRankedUsers     = 10
	MaxRankedResources = 10
)
