// Package ingest loads trip CSVs into the durable trips store.
//
// Files are streamed in bounded chunks. Each chunk is normalized, hashed,
// tagged with its source file and handed to a TripMerger, which stages and
// upserts it atomically. Re-ingesting a file is idempotent because the merge
// is keyed on the trip identity.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/normalize"
)

// DefaultChunkSize bounds the rows held in memory per chunk.
const DefaultChunkSize = 200_000

// DefaultDirs are the raw-root subdirectories searched for trip CSVs.
var DefaultDirs = []string{"", "citibike"}

// TripMerger stages a batch of records and upserts it into the trips store
// in one atomic step, returning the number of rows inserted or updated.
// On conflict only the duration and source file may change.
type TripMerger interface {
	Merge(ctx context.Context, records []domain.TripRecord) (int64, error)
}

// Metrics receives ingestion progress. A nil Metrics is allowed.
type Metrics interface {
	ChunkMerged(rows int, took time.Duration)
	FileIngested(rep domain.FileReport)
}

// Options tunes an Ingestor. Zero values select the defaults.
type Options struct {
	Dirs      []string
	ChunkSize int
	Workers   int // chunks merged concurrently per file
}

// Ingestor discovers and loads trip CSVs.
type Ingestor struct {
	store   TripMerger
	opts    Options
	log     *slog.Logger
	metrics Metrics
}

// New constructs an Ingestor writing to store.
func New(store TripMerger, opts Options, log *slog.Logger, m Metrics) *Ingestor {
	if opts.Dirs == nil {
		opts.Dirs = DefaultDirs
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{store: store, opts: opts, log: log, metrics: m}
}

// Run ingests every CSV discovered under root, in sorted order. A missing
// root or an empty discovery is logged and returns no reports and no error.
// The first store failure stops the run.
func (in *Ingestor) Run(ctx context.Context, root string) ([]domain.FileReport, error) {
	files, err := Discover(root, in.opts.Dirs)
	if errors.Is(err, domain.ErrNotFound) {
		in.log.InfoContext(ctx, "trip directory not found, skipping trips", "dir", root)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest.Ingestor.Run: %w", err)
	}
	if len(files) == 0 {
		in.log.InfoContext(ctx, "no trip CSVs found", "dir", root, "subdirs", in.opts.Dirs)
		return nil, nil
	}

	reports := make([]domain.FileReport, 0, len(files))
	for _, path := range files {
		rep, err := in.IngestFile(ctx, path)
		reports = append(reports, rep)
		if err != nil {
			return reports, fmt.Errorf("ingest.Ingestor.Run: %w", err)
		}
	}
	return reports, nil
}

// IngestFile loads one CSV. The returned report covers the chunks merged
// before any failure.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (domain.FileReport, error) {
	name := filepath.Base(path)
	rep := domain.FileReport{File: name}
	log := in.log.With("file", name)

	f, err := os.Open(path)
	if err != nil {
		return rep, fmt.Errorf("ingest.Ingestor.IngestFile: %w", err)
	}
	defer f.Close()

	cr := newChunkReader(f)
	columns, err := cr.header()
	if err == io.EOF {
		log.WarnContext(ctx, "empty trip CSV, skipping")
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("ingest.Ingestor.IngestFile: %s: read header: %w", name, err)
	}
	header := normalize.NewHeader(columns)
	if missing := header.Unmapped(); len(missing) > 0 {
		log.InfoContext(ctx, "columns absent from source, loading as null", "columns", missing)
	}
	log.InfoContext(ctx, "loading trips", "path", path, "chunk_size", in.opts.ChunkSize)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Workers)

	var readErr error
	for seq := 1; ; seq++ {
		rows, malformed, err := cr.next(gctx, in.opts.ChunkSize)
		for _, line := range malformed {
			log.WarnContext(ctx, "skipping malformed CSV record", "line", line)
		}
		mu.Lock()
		rep.Malformed += int64(len(malformed))
		mu.Unlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if len(rows) == 0 {
			continue
		}
		g.Go(func() error {
			return in.mergeChunk(gctx, log, name, seq, header, rows, &rep, &mu)
		})
	}

	if err := g.Wait(); err != nil {
		return rep, fmt.Errorf("ingest.Ingestor.IngestFile: %s: %w", name, err)
	}
	if readErr != nil {
		return rep, fmt.Errorf("ingest.Ingestor.IngestFile: %s: read: %w", name, readErr)
	}

	if in.metrics != nil {
		in.metrics.FileIngested(rep)
	}
	log.InfoContext(ctx, "trips loaded",
		"chunks", rep.Chunks,
		"rows", rep.Rows,
		"merged", rep.Merged,
		"malformed", rep.Malformed,
		"null_timestamps", rep.NullTimes,
	)
	return rep, nil
}

// mergeChunk runs the normalize, hash, stage and merge cycle for one chunk.
func (in *Ingestor) mergeChunk(ctx context.Context, log *slog.Logger, name string, seq int, header normalize.Header, rows [][]string, rep *domain.FileReport, mu *sync.Mutex) error {
	records := make([]domain.TripRecord, 0, len(rows))
	var nullTimes int64
	for _, row := range rows {
		r := header.Record(row)
		r.SourceFile = name
		if r.StartedAt == nil || r.EndedAt == nil {
			nullTimes++
		}
		records = append(records, r)
	}
	records = Collapse(records)

	start := time.Now()
	merged, err := in.store.Merge(ctx, records)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", seq, err)
	}
	took := time.Since(start)

	mu.Lock()
	rep.Chunks++
	rep.Rows += int64(len(rows))
	rep.Merged += merged
	rep.NullTimes += nullTimes
	mu.Unlock()

	if in.metrics != nil {
		in.metrics.ChunkMerged(len(rows), took)
	}
	log.DebugContext(ctx, "chunk merged",
		"chunk", seq,
		"rows", len(rows),
		"unique", len(records),
		"merged", merged,
		"duration_ms", took.Milliseconds(),
	)
	return nil
}

// Collapse folds records sharing a TripID into one, keeping first-seen order.
// Duplicates are merged with the same policy the store applies on conflict,
// so a single upsert statement never touches a row twice.
func Collapse(records []domain.TripRecord) []domain.TripRecord {
	seen := make(map[string]int, len(records))
	out := make([]domain.TripRecord, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.TripID]; ok {
			out[i].MergeFrom(r)
			continue
		}
		seen[r.TripID] = len(out)
		out = append(out, r)
	}
	return out
}
