package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/certledger/audittrail/pkg/observability"
)

// CleanupJobID is the fixed resource id recorded on retention job entries.
const CleanupJobID = "audit-cleanup"

// DefaultRetentionDays is the retention window used when none is configured.
const DefaultRetentionDays = 90

// Cleaner deletes audit entries older than the retention window. Run never
// propagates an error to its scheduler; outcomes are reported through audit
// entries plus the external logger.
type Cleaner struct {
	writer        *Writer
	store         Store
	logger        *logrus.Logger
	metrics       *observability.Metrics
	retentionDays int

	nowFunc func() time.Time
}

// NewCleaner creates a retention cleaner. A non-positive retentionDays falls
// back to DefaultRetentionDays. metrics may be nil.
func NewCleaner(writer *Writer, store Store, logger *logrus.Logger, metrics *observability.Metrics, retentionDays int) *Cleaner {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Cleaner{
		writer:        writer,
		store:         store,
		logger:        logger,
		metrics:       metrics,
		retentionDays: retentionDays,
		nowFunc:       time.Now,
	}
}

// Cleanup deletes every entry whose timestamp is at or before now minus
// retentionDays days, returning the number of deleted entries.
func (c *Cleaner) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := c.nowFunc().UnixMilli() - int64(retentionDays)*int64(24*time.Hour/time.Millisecond)
	return c.store.DeleteOlderThan(ctx, cutoff)
}

// Run executes one scheduled cleanup pass. It records job start and
// completion (or failure) as audit entries and never returns an error to the
// caller, so a cron scheduler can invoke it directly.
func (c *Cleaner) Run(ctx context.Context) {
	c.logger.Info("Starting audit log cleanup job")

	if _, err := c.writer.Log(ctx, Params{
		Action:       ActionJobStart,
		ResourceType: ResourceTypeSystem,
		ResourceID:   CleanupJobID,
		IPAddress:    IPSystem,
		Metadata: map[string]interface{}{
			"job":           CleanupJobID,
			"retentionDays": c.retentionDays,
		},
	}); err != nil {
		c.logger.WithError(err).Error("Failed to record cleanup job start")
	}

	deleted, err := c.Cleanup(ctx, c.retentionDays)
	if err != nil {
		c.logger.WithError(err).Error("Audit cleanup failed")

		if _, logErr := c.writer.Log(ctx, Params{
			Action:       ActionJobFailed,
			ResourceType: ResourceTypeSystem,
			ResourceID:   CleanupJobID,
			IPAddress:    IPSystem,
			Status:       StatusError,
			ErrorMessage: err.Error(),
			Metadata: map[string]interface{}{
				"job":   CleanupJobID,
				"error": err.Error(),
			},
		}); logErr != nil {
			// Failing to record the failure must not crash the scheduler.
			c.logger.WithError(logErr).Error("Failed to record cleanup failure")
		}
		return
	}

	if c.metrics != nil {
		c.metrics.RetentionDeletedTotal.Add(float64(deleted))
	}
	c.logger.WithField("deleted", deleted).Info("Audit cleanup completed")

	if _, err := c.writer.Log(ctx, Params{
		Action:       ActionJobComplete,
		ResourceType: ResourceTypeSystem,
		ResourceID:   CleanupJobID,
		IPAddress:    IPSystem,
		Metadata: map[string]interface{}{
			"job":           CleanupJobID,
			"retentionDays": c.retentionDays,
			"deletedCount":  deleted,
		},
	}); err != nil {
		c.logger.WithError(err).Error("Failed to record cleanup job completion")
	}
}
