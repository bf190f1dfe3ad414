// Package metrics exposes loader progress as Prometheus metrics on a private
// registry, served over HTTP or pushed to a Pushgateway after a run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Job is the Pushgateway job name.
const Job = "bikeshare_loader"

// Collector owns every loader metric. It satisfies the Metrics interfaces of
// ingest, snapshot, weather, notify and pipeline.
type Collector struct {
	reg *prometheus.Registry

	FilesIngested prometheus.Counter
	ChunksMerged  prometheus.Counter
	RowsRead      prometheus.Counter
	RowsMerged    prometheus.Counter
	Malformed     prometheus.Counter
	NullTimes     prometheus.Counter

	Snapshots   *prometheus.CounterVec // feed, outcome: appended|skipped
	WeatherRows prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	ChunkDuration prometheus.Histogram

	LastRunDuration prometheus.Gauge // seconds
	LastRunSuccess  prometheus.Gauge
	LastRunUnix     prometheus.Gauge
}

// NewCollector builds a Collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FilesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_files_ingested_total",
			Help: "Trip CSV files fully ingested.",
		}),
		ChunksMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_chunks_merged_total",
			Help: "Trip chunks staged and merged.",
		}),
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_rows_read_total",
			Help: "Trip rows read from CSV, including degraded rows.",
		}),
		RowsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_rows_merged_total",
			Help: "Trip rows inserted or updated by the upsert.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_records_malformed_total",
			Help: "CSV records the parser rejected and skipped.",
		}),
		NullTimes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_trip_rows_null_timestamp_total",
			Help: "Trip rows loaded with a missing or unparseable timestamp.",
		}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikeshare_snapshot_documents_total",
			Help: "GBFS snapshot documents by feed and outcome.",
		}, []string{"feed", "outcome"}),
		WeatherRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_weather_rows_total",
			Help: "Weather observations appended.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_nats_published_total",
			Help: "Run reports published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_nats_publish_errors_total",
			Help: "Run report publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		ChunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bikeshare_trip_chunk_merge_duration_seconds",
			Help:    "Time to stage and merge one trip chunk.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		LastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_last_run_duration_seconds",
			Help: "Wall time of the most recent run.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_last_run_success",
			Help: "1 if the most recent run succeeded, 0 otherwise.",
		}),
		LastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_last_run_finished_timestamp_seconds",
			Help: "Unix time the most recent run finished.",
		}),
	}

	reg.MustRegister(
		c.FilesIngested, c.ChunksMerged, c.RowsRead, c.RowsMerged, c.Malformed, c.NullTimes,
		c.Snapshots, c.WeatherRows,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.ChunkDuration,
		c.LastRunDuration, c.LastRunSuccess, c.LastRunUnix,
	)
	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway under Job, replacing any
// previous push for the job.
func (c *Collector) Push(ctx context.Context, url string) error {
	if err := push.New(url, Job).Gatherer(c.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics.Collector.Push: %w", err)
	}
	return nil
}

func (c *Collector) ChunkMerged(_ int, took time.Duration) {
	c.ChunksMerged.Inc()
	c.ChunkDuration.Observe(took.Seconds())
}

func (c *Collector) FileIngested(rep domain.FileReport) {
	c.FilesIngested.Inc()
	c.RowsRead.Add(float64(rep.Rows))
	c.RowsMerged.Add(float64(rep.Merged))
	c.Malformed.Add(float64(rep.Malformed))
	c.NullTimes.Add(float64(rep.NullTimes))
}

func (c *Collector) SnapshotAppended(feed string) {
	c.Snapshots.WithLabelValues(feed, "appended").Inc()
}

func (c *Collector) SnapshotSkipped(feed string) {
	c.Snapshots.WithLabelValues(feed, "skipped").Inc()
}

func (c *Collector) WeatherAppended(rows int64) { c.WeatherRows.Add(float64(rows)) }

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(ok bool) {
	if ok {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// RunFinished records the outcome of a pipeline run.
func (c *Collector) RunFinished(rep domain.RunReport) {
	c.LastRunDuration.Set(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	c.LastRunUnix.Set(float64(rep.FinishedAt.Unix()))
	if rep.Err == "" {
		c.LastRunSuccess.Set(1)
		return
	}
	c.LastRunSuccess.Set(0)
}
