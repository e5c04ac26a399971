// Package reconcile repairs cross-entity invariants after partial failures. It is
// the only place recovery logic lives; request-path components fail fast instead.
package reconcile

import (
	"context"
	"errors"
	"time"

	"bucketd/internal/blob"
	"bucketd/internal/file"
	"bucketd/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type reservationSweeper interface {
	SweepExpired(now time.Time) int
}

type bucketResumer interface {
	ResumeDeleting(ctx context.Context) (int, error)
}

type fileIndex interface {
	ExistsByLocation(ctx context.Context, location string) (bool, error)
	ListLocations(ctx context.Context) ([]file.BlobRecord, error)
	MarkInconsistent(ctx context.Context, fileID uuid.UUID) error
}

type blobScanner interface {
	Walk(ctx context.Context, fn blob.WalkFunc) error
	Exists(ctx context.Context, location string) (bool, error)
	Remove(ctx context.Context, location string) error
	SweepStaging(ctx context.Context, olderThan time.Time) (int, error)
}

// Coordinator runs the periodic reconciliation sweep.
type Coordinator struct {
	ledger      reservationSweeper
	buckets     bucketResumer
	files       fileIndex
	blobs       blobScanner
	interval    time.Duration
	orphanGrace time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewCoordinator wires the sweep against the live components.
func NewCoordinator(ledger reservationSweeper, buckets bucketResumer, files fileIndex, blobs blobScanner, interval, orphanGrace time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.InitMetrics()
	return &Coordinator{
		ledger:      ledger,
		buckets:     buckets,
		files:       files,
		blobs:       blobs,
		interval:    interval,
		orphanGrace: orphanGrace,
		now:         time.Now,
		logger:      logger,
	}
}

// Run sweeps once immediately and then on every tick until the context is done, so
// long-lived processes do not wait a full interval before repairing crash leftovers.
func (c *Coordinator) Run(ctx context.Context) {
	c.Sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass. Each phase is independent; a failure in
// one is logged and does not block the others.
func (c *Coordinator) Sweep(ctx context.Context) {
	metrics.SweepRuns.Inc()

	if released := c.ledger.SweepExpired(c.now()); released > 0 {
		metrics.SweepReservationsReleased.Add(float64(released))
		c.logger.Info("released expired reservations", zap.Int("count", released))
	}

	if resumed, err := c.buckets.ResumeDeleting(ctx); err != nil {
		c.logSweepError("resume bucket deletions", err)
	} else if resumed > 0 {
		metrics.SweepBucketsResumed.Add(float64(resumed))
		c.logger.Info("finished interrupted bucket deletions", zap.Int("count", resumed))
	}

	c.removeOrphanBlobs(ctx)
	c.flagMissingBlobs(ctx)

	if removed, err := c.blobs.SweepStaging(ctx, c.now().Add(-c.orphanGrace)); err != nil {
		c.logSweepError("sweep staging area", err)
	} else if removed > 0 {
		c.logger.Info("removed abandoned staged blobs", zap.Int("count", removed))
	}
}

// removeOrphanBlobs deletes published blobs with no metadata record. Blobs younger
// than the grace window are skipped: their metadata commit may still be in flight.
func (c *Coordinator) removeOrphanBlobs(ctx context.Context) {
	cutoff := c.now().Add(-c.orphanGrace)

	err := c.blobs.Walk(ctx, func(location string, size int64, modTime time.Time) error {
		if modTime.After(cutoff) {
			return nil
		}

		exists, err := c.files.ExistsByLocation(ctx, location)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		if err := c.blobs.Remove(ctx, location); err != nil {
			return err
		}
		metrics.SweepOrphansRemoved.Inc()
		c.logger.Info("removed orphan blob",
			zap.String("location", location), zap.Int64("size", size))
		return nil
	})
	if err != nil {
		c.logSweepError("scan for orphan blobs", err)
	}
}

// flagMissingBlobs marks records whose blob is gone. They are never auto-deleted:
// the cause may be transient storage unavailability rather than true loss.
func (c *Coordinator) flagMissingBlobs(ctx context.Context) {
	records, err := c.files.ListLocations(ctx)
	if err != nil {
		c.logSweepError("list file locations", err)
		return
	}

	for _, rec := range records {
		if rec.Inconsistent {
			continue
		}

		exists, err := c.blobs.Exists(ctx, rec.BlobLocation)
		if err != nil {
			c.logSweepError("probe blob", err)
			continue
		}
		if exists {
			continue
		}

		if err := c.files.MarkInconsistent(ctx, rec.ID); err != nil {
			c.logSweepError("mark file inconsistent", err)
			continue
		}
		metrics.SweepFilesFlagged.Inc()
		c.logger.Warn("file record has no blob",
			zap.String("file_id", rec.ID.String()),
			zap.String("location", rec.BlobLocation))
	}
}

func (c *Coordinator) logSweepError(action string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.logger.Error("sweep phase failed", zap.String("action", action), zap.Error(err))
}
