// Package snapshot loads the latest captured GBFS feed documents into their
// append-only stores.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Dir is the raw-root subdirectory holding one directory per capture.
const Dir = "gbfs"

// Skip reasons recorded on a SnapshotReport.
const (
	SkipMissing = "missing"
	SkipInvalid = "invalid json"
)

// Appender writes one snapshot document to a feed's store.
type Appender interface {
	Append(ctx context.Context, feed domain.Feed, doc domain.SnapshotDocument) error
}

// Metrics receives per-feed outcomes. A nil Metrics is allowed.
type Metrics interface {
	SnapshotAppended(feed string)
	SnapshotSkipped(feed string)
}

// Loader appends the documents of the most recent capture directory.
type Loader struct {
	store   Appender
	log     *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// New constructs a Loader writing to store.
func New(store Appender, log *slog.Logger, m Metrics) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{store: store, log: log, metrics: m, now: time.Now}
}

// WithClock replaces the clock used when a document carries no usable
// last_updated field.
func (l *Loader) WithClock(now func() time.Time) *Loader {
	l.now = now
	return l
}

// Latest returns the capture directory under root whose name sorts last.
// It returns domain.ErrNoSnapshot when root is absent or holds no directory.
func Latest(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("snapshot.Latest: %w", err)
	}
	// ReadDir sorts by name.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsDir() {
			return filepath.Join(root, entries[i].Name()), nil
		}
	}
	return "", domain.ErrNoSnapshot
}

// Run loads the latest capture under <raw>/gbfs. It returns the directory
// used, or "" when there was nothing to load. Only store failures are
// returned as errors.
func (l *Loader) Run(ctx context.Context, raw string) (string, []domain.SnapshotReport, error) {
	root := filepath.Join(raw, Dir)
	dir, err := Latest(root)
	if errors.Is(err, domain.ErrNoSnapshot) {
		l.log.InfoContext(ctx, "no GBFS snapshot found, skipping", "dir", root)
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("snapshot.Loader.Run: %w", err)
	}

	reports, err := l.LoadDir(ctx, dir)
	if err != nil {
		return dir, reports, fmt.Errorf("snapshot.Loader.Run: %w", err)
	}
	return dir, reports, nil
}

// LoadDir appends every known feed file found in dir. Missing and invalid
// files are reported and skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]domain.SnapshotReport, error) {
	log := l.log.With("snapshot", filepath.Base(dir))
	reports := make([]domain.SnapshotReport, 0, len(domain.GBFSFeeds))

	for _, feed := range domain.GBFSFeeds {
		path := filepath.Join(dir, feed.File)
		rep := domain.SnapshotReport{Feed: feed.Name, Path: path}

		body, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.WarnContext(ctx, "snapshot file missing, skipping", "feed", feed.Name, "path", path)
			rep.Skipped = SkipMissing
		case err != nil:
			return reports, fmt.Errorf("snapshot.Loader.LoadDir: %s: %w", feed.Name, err)
		case !json.Valid(body):
			log.WarnContext(ctx, "snapshot file is not valid JSON, skipping", "feed", feed.Name, "path", path)
			rep.Skipped = SkipInvalid
		}
		if rep.Skipped != "" {
			reports = append(reports, rep)
			if l.metrics != nil {
				l.metrics.SnapshotSkipped(feed.Name)
			}
			continue
		}

		ts, ok := CaptureTime(body)
		if !ok {
			ts = l.now().UTC()
		}
		doc := domain.SnapshotDocument{TS: ts, Doc: json.RawMessage(body)}
		if err := l.store.Append(ctx, feed, doc); err != nil {
			return reports, fmt.Errorf("snapshot.Loader.LoadDir: %s: %w", feed.Name, err)
		}

		rep.TS = ts
		rep.Appended = true
		reports = append(reports, rep)
		if l.metrics != nil {
			l.metrics.SnapshotAppended(feed.Name)
		}
		log.InfoContext(ctx, "snapshot appended", "feed", feed.Name, "ts", ts, "bytes", len(body))
	}
	return reports, nil
}

// CaptureTime reads the top-level last_updated field of a feed document.
// Epoch seconds are accepted as a number or a numeric string, as is an
// RFC 3339 timestamp. Non-positive epochs count as absent.
func CaptureTime(body []byte) (time.Time, bool) {
	var head struct {
		LastUpdated json.RawMessage `json:"last_updated"`
	}
	if err := json.Unmarshal(body, &head); err != nil || len(head.LastUpdated) == 0 {
		return time.Time{}, false
	}

	var n json.Number
	if err := json.Unmarshal(head.LastUpdated, &n); err == nil {
		f, err := n.Float64()
		if err != nil || f <= 0 || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}

	var s string
	if err := json.Unmarshal(head.LastUpdated, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
