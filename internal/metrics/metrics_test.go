package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/ingest"
	"github.com/pkordes/bikeshare-etl/internal/metrics"
	"github.com/pkordes/bikeshare-etl/internal/notify"
	"github.com/pkordes/bikeshare-etl/internal/pipeline"
	"github.com/pkordes/bikeshare-etl/internal/snapshot"
	"github.com/pkordes/bikeshare-etl/internal/weather"
)

var (
	_ ingest.Metrics   = (*metrics.Collector)(nil)
	_ snapshot.Metrics = (*metrics.Collector)(nil)
	_ weather.Metrics  = (*metrics.Collector)(nil)
	_ notify.Metrics   = (*metrics.Collector)(nil)
	_ pipeline.Metrics = (*metrics.Collector)(nil)
)

func TestCollector_FileIngested(t *testing.T) {
	c := metrics.NewCollector()

	c.ChunkMerged(100, 250*time.Millisecond)
	c.ChunkMerged(40, 80*time.Millisecond)
	c.FileIngested(domain.FileReport{File: "a.csv", Chunks: 2, Rows: 140, Merged: 138, Malformed: 1, NullTimes: 3})

	assert.InDelta(t, 1, testutil.ToFloat64(c.FilesIngested), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.ChunksMerged), 0)
	assert.InDelta(t, 140, testutil.ToFloat64(c.RowsRead), 0)
	assert.InDelta(t, 138, testutil.ToFloat64(c.RowsMerged), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Malformed), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(c.NullTimes), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(c.ChunkDuration))
}

func TestCollector_Snapshots(t *testing.T) {
	c := metrics.NewCollector()

	c.SnapshotAppended("station_information")
	c.SnapshotSkipped("station_status")
	c.SnapshotSkipped("station_status")
	c.WeatherAppended(366)

	assert.InDelta(t, 1, testutil.ToFloat64(c.Snapshots.WithLabelValues("station_information", "appended")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.Snapshots.WithLabelValues("station_status", "skipped")), 0)
	assert.InDelta(t, 366, testutil.ToFloat64(c.WeatherRows), 0)
}

func TestCollector_RunFinished(t *testing.T) {
	c := metrics.NewCollector()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c.RunFinished(domain.RunReport{StartedAt: start, FinishedAt: start.Add(90 * time.Second)})
	assert.InDelta(t, 90, testutil.ToFloat64(c.LastRunDuration), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.LastRunSuccess), 0)
	assert.InDelta(t, float64(start.Add(90*time.Second).Unix()), testutil.ToFloat64(c.LastRunUnix), 0)

	c.RunFinished(domain.RunReport{StartedAt: start, FinishedAt: start, Err: "boom"})
	assert.InDelta(t, 0, testutil.ToFloat64(c.LastRunSuccess), 0)
}

func TestCollector_NATSConnected(t *testing.T) {
	c := metrics.NewCollector()

	c.NATSSetConnected(true)
	assert.InDelta(t, 1, testutil.ToFloat64(c.NATSConnected), 0)
	c.NATSSetConnected(false)
	assert.InDelta(t, 0, testutil.ToFloat64(c.NATSConnected), 0)
}

func TestCollector_Handler(t *testing.T) {
	c := metrics.NewCollector()
	c.WeatherAppended(5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bikeshare_weather_rows_total 5")
}

func TestCollector_Push(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := metrics.NewCollector()
	c.FileIngested(domain.FileReport{Rows: 7})

	require.NoError(t, c.Push(context.Background(), srv.URL))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasSuffix(gotPath, "/job/"+metrics.Job), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestCollector_Push_gatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := metrics.NewCollector().Push(context.Background(), srv.URL)

	assert.ErrorContains(t, err, "metrics.Collector.Push")
}
