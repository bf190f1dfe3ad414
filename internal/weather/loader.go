// Package weather appends daily weather observations to the raw weather
// store, one JSON document per CSV row.
package weather

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/ingest"
	"github.com/pkordes/bikeshare-etl/internal/normalize"
)

// Dir is the raw-root subdirectory holding weather CSVs.
const Dir = "weather"

// timeColumns are tried in order for a row's observation time.
var timeColumns = []string{"date_key", "time", "date"}

// Appender bulk-appends documents to a feed's store.
type Appender interface {
	AppendMany(ctx context.Context, feed domain.Feed, docs []domain.SnapshotDocument) (int64, error)
}

// Metrics receives the number of rows appended per file. A nil Metrics is
// allowed.
type Metrics interface {
	WeatherAppended(rows int64)
}

// Loader appends weather CSV rows.
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

// WithClock replaces the clock used for rows without an observation time.
func (l *Loader) WithClock(now func() time.Time) *Loader {
	l.now = now
	return l
}

// Run appends every CSV under <raw>/weather and returns the rows written.
// A missing directory is a no-op.
func (l *Loader) Run(ctx context.Context, raw string) (int64, error) {
	dir := filepath.Join(raw, Dir)
	files, err := ingest.Discover(dir, []string{""})
	if errors.Is(err, domain.ErrNotFound) {
		l.log.InfoContext(ctx, "weather directory not found, skipping", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("weather.Loader.Run: %w", err)
	}

	var total int64
	for _, path := range files {
		n, err := l.LoadFile(ctx, path)
		total += n
		if err != nil {
			return total, fmt.Errorf("weather.Loader.Run: %w", err)
		}
	}
	return total, nil
}

// LoadFile appends the rows of one weather CSV.
func (l *Loader) LoadFile(ctx context.Context, path string) (int64, error) {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("weather.Loader.LoadFile: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	columns, err := r.Read()
	if err == io.EOF {
		l.log.WarnContext(ctx, "empty weather CSV, skipping", "file", name)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("weather.Loader.LoadFile: %s: read header: %w", name, err)
	}
	columns = append([]string(nil), columns...)
	for i, c := range columns {
		columns[i] = normalize.Column(c)
	}

	var docs []domain.SnapshotDocument
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			l.log.WarnContext(ctx, "skipping malformed weather record", "file", name, "line", perr.Line)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("weather.Loader.LoadFile: %s: %w", name, err)
		}
		doc, err := l.document(columns, row)
		if err != nil {
			return 0, fmt.Errorf("weather.Loader.LoadFile: %s: %w", name, err)
		}
		docs = append(docs, doc)
	}

	n, err := l.store.AppendMany(ctx, domain.WeatherFeed, docs)
	if err != nil {
		return 0, fmt.Errorf("weather.Loader.LoadFile: %s: %w", name, err)
	}
	if l.metrics != nil {
		l.metrics.WeatherAppended(n)
	}
	l.log.InfoContext(ctx, "weather loaded", "file", name, "rows", n)
	return n, nil
}

// document converts a row to a JSON object keyed by column. Empty cells are
// null and numeric cells are numbers.
func (l *Loader) document(columns, row []string) (domain.SnapshotDocument, error) {
	obj := make(map[string]any, len(columns))
	for i, col := range columns {
		if col == "" {
			continue
		}
		var cell string
		if i < len(row) {
			cell = strings.TrimSpace(row[i])
		}
		obj[col] = value(cell)
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return domain.SnapshotDocument{}, err
	}
	return domain.SnapshotDocument{TS: l.observedAt(columns, row), Doc: body}, nil
}

func (l *Loader) observedAt(columns, row []string) time.Time {
	for _, name := range timeColumns {
		for i, col := range columns {
			if col != name || i >= len(row) {
				continue
			}
			if ts := normalize.ParseTime(row[i]); ts != nil {
				return *ts
			}
		}
	}
	return l.now().UTC()
}

func value(cell string) any {
	if cell == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil && !isSpecial(cell) {
		return f
	}
	return cell
}

// isSpecial reports spellings ParseFloat accepts that JSON cannot carry.
func isSpecial(cell string) bool {
	switch strings.ToLower(strings.TrimLeft(cell, "+-")) {
	case "nan", "inf", "infinity":
		return true
	}
	return false
}
