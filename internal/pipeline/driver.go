// Package pipeline runs one complete load: provisioning, trips, the latest
// GBFS snapshot and weather, in that order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Provisioner creates the warehouse schema if it is absent and returns the
// number of migrations applied.
type Provisioner interface {
	Ensure(ctx context.Context) (int, error)
}

// TripIngestor loads every trip CSV under a raw root.
type TripIngestor interface {
	Run(ctx context.Context, root string) ([]domain.FileReport, error)
}

// SnapshotLoader loads the latest GBFS capture under a raw root.
type SnapshotLoader interface {
	Run(ctx context.Context, raw string) (string, []domain.SnapshotReport, error)
}

// WeatherLoader loads the weather CSVs under a raw root.
type WeatherLoader interface {
	Run(ctx context.Context, raw string) (int64, error)
}

// Notifier announces a finished run.
type Notifier interface {
	RunCompleted(ctx context.Context, rep domain.RunReport) error
}

// Metrics records a finished run.
type Metrics interface {
	RunFinished(rep domain.RunReport)
}

// Stages are the run's collaborators. Weather, Notifier and Metrics may be nil.
type Stages struct {
	Provisioner Provisioner
	Trips       TripIngestor
	Snapshots   SnapshotLoader
	Weather     WeatherLoader
	Notifier    Notifier
	Metrics     Metrics
}

// notifyTimeout bounds the run-completed publish, which still happens after
// the run context is cancelled.
const notifyTimeout = 5 * time.Second

// Driver executes runs. It keeps the last finished report for the ops
// endpoint and carries no other state between runs.
type Driver struct {
	stages Stages
	log    *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last *domain.RunReport
}

// New constructs a Driver.
func New(stages Stages, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{stages: stages, log: log, now: time.Now}
}

// Run executes one load against raw. The first fatal error stops the run;
// the returned report covers the stages completed before it.
func (d *Driver) Run(ctx context.Context, raw string) (domain.RunReport, error) {
	rep := domain.RunReport{RunID: uuid.New(), StartedAt: d.now().UTC()}
	log := d.log.With("run_id", rep.RunID)
	log.InfoContext(ctx, "run started", "raw_dir", raw)

	err := d.run(ctx, log, raw, &rep)

	rep.FinishedAt = d.now().UTC()
	if err != nil {
		rep.Err = err.Error()
		log.ErrorContext(ctx, "run failed", "error", err, "duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds())
	} else {
		log.InfoContext(ctx, "run finished",
			"files", len(rep.Files),
			"rows_merged", rep.RowsMerged(),
			"snapshot", rep.Snapshot,
			"weather_rows", rep.Weather,
			"duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
		)
	}
	d.finish(ctx, log, rep)
	return rep, err
}

func (d *Driver) run(ctx context.Context, log *slog.Logger, raw string, rep *domain.RunReport) error {
	if err := os.MkdirAll(raw, 0o755); err != nil {
		return fmt.Errorf("pipeline.Driver.Run: ensure raw dir: %w", err)
	}

	n, err := d.stages.Provisioner.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("pipeline.Driver.Run: provision: %w", err)
	}
	rep.Migrations = n

	rep.Files, err = d.stages.Trips.Run(ctx, raw)
	if err != nil {
		return fmt.Errorf("pipeline.Driver.Run: trips: %w", err)
	}

	dir, snaps, err := d.stages.Snapshots.Run(ctx, raw)
	rep.Snapshots = snaps
	if dir != "" {
		rep.Snapshot = filepath.Base(dir)
	}
	if err != nil {
		return fmt.Errorf("pipeline.Driver.Run: snapshots: %w", err)
	}
	for _, s := range snaps {
		if s.Skipped != "" {
			log.WarnContext(ctx, "snapshot feed skipped", "feed", s.Feed, "reason", s.Skipped)
		}
	}

	if d.stages.Weather == nil {
		return nil
	}
	rep.Weather, err = d.stages.Weather.Run(ctx, raw)
	if err != nil {
		return fmt.Errorf("pipeline.Driver.Run: weather: %w", err)
	}
	return nil
}

// finish records rep and announces it. Notification failures are logged only.
func (d *Driver) finish(ctx context.Context, log *slog.Logger, rep domain.RunReport) {
	d.mu.Lock()
	d.last = &rep
	d.mu.Unlock()

	if d.stages.Metrics != nil {
		d.stages.Metrics.RunFinished(rep)
	}
	if d.stages.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := d.stages.Notifier.RunCompleted(nctx, rep); err != nil {
		log.WarnContext(ctx, "run notification failed", "error", err)
	}
}

// LastReport returns the most recently finished run.
func (d *Driver) LastReport() (domain.RunReport, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return domain.RunReport{}, false
	}
	return *d.last, true
}
