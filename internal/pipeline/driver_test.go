package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/pipeline"
)

// Hand-written function-field mocks for each stage. calls records the order
// stages ran in.

type calls []string

type mockProvisioner struct {
	calls    *calls
	ensureFn func() (int, error)
}

func (m *mockProvisioner) Ensure(context.Context) (int, error) {
	*m.calls = append(*m.calls, "provision")
	return m.ensureFn()
}

type mockTrips struct {
	calls *calls
	runFn func(root string) ([]domain.FileReport, error)
}

func (m *mockTrips) Run(_ context.Context, root string) ([]domain.FileReport, error) {
	*m.calls = append(*m.calls, "trips")
	return m.runFn(root)
}

type mockSnapshots struct {
	calls *calls
	runFn func(raw string) (string, []domain.SnapshotReport, error)
}

func (m *mockSnapshots) Run(_ context.Context, raw string) (string, []domain.SnapshotReport, error) {
	*m.calls = append(*m.calls, "snapshots")
	return m.runFn(raw)
}

type mockWeather struct {
	calls *calls
	runFn func(raw string) (int64, error)
}

func (m *mockWeather) Run(_ context.Context, raw string) (int64, error) {
	*m.calls = append(*m.calls, "weather")
	return m.runFn(raw)
}

type mockNotifier struct {
	err    error
	got    []domain.RunReport
	ctxErr []error // ctx.Err() at call time
}

func (m *mockNotifier) RunCompleted(ctx context.Context, rep domain.RunReport) error {
	m.got = append(m.got, rep)
	m.ctxErr = append(m.ctxErr, ctx.Err())
	return m.err
}

type mockMetrics struct{ got []domain.RunReport }

func (m *mockMetrics) RunFinished(rep domain.RunReport) { m.got = append(m.got, rep) }

// happyStages returns stages that all succeed.
func happyStages(c *calls) pipeline.Stages {
	return pipeline.Stages{
		Provisioner: &mockProvisioner{calls: c, ensureFn: func() (int, error) { return 1, nil }},
		Trips: &mockTrips{calls: c, runFn: func(string) ([]domain.FileReport, error) {
			return []domain.FileReport{{File: "a.csv", Merged: 3}, {File: "b.csv", Merged: 4}}, nil
		}},
		Snapshots: &mockSnapshots{calls: c, runFn: func(raw string) (string, []domain.SnapshotReport, error) {
			return filepath.Join(raw, "gbfs", "20240102T000000Z"), []domain.SnapshotReport{
				{Feed: "station_information", Appended: true},
				{Feed: "station_status", Skipped: "missing"},
			}, nil
		}},
		Weather: &mockWeather{calls: c, runFn: func(string) (int64, error) { return 366, nil }},
	}
}

func TestDriver_Run_order(t *testing.T) {
	var c calls
	raw := filepath.Join(t.TempDir(), "data", "raw")
	m := &mockMetrics{}
	n := &mockNotifier{}
	stages := happyStages(&c)
	stages.Metrics = m
	stages.Notifier = n

	rep, err := pipeline.New(stages, nil).Run(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, calls{"provision", "trips", "snapshots", "weather"}, c)
	assert.DirExists(t, raw, "raw directory is created before provisioning")

	assert.NotEqual(t, uuid.Nil, rep.RunID)
	assert.Equal(t, 1, rep.Migrations)
	assert.EqualValues(t, 7, rep.RowsMerged())
	assert.Equal(t, "20240102T000000Z", rep.Snapshot)
	assert.Len(t, rep.Snapshots, 2)
	assert.EqualValues(t, 366, rep.Weather)
	assert.Empty(t, rep.Err)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	require.Len(t, m.got, 1)
	require.Len(t, n.got, 1)
	assert.Equal(t, rep.RunID, n.got[0].RunID)
}

func TestDriver_Run_fatalStageStopsRun(t *testing.T) {
	errDB := errors.New("connection refused")
	tests := []struct {
		name      string
		breakIt   func(s *pipeline.Stages, c *calls)
		wantCalls calls
		wantStage string
	}{
		{
			name: "provision",
			breakIt: func(s *pipeline.Stages, c *calls) {
				s.Provisioner = &mockProvisioner{calls: c, ensureFn: func() (int, error) { return 0, errDB }}
			},
			wantCalls: calls{"provision"},
			wantStage: "provision",
		},
		{
			name: "trips",
			breakIt: func(s *pipeline.Stages, c *calls) {
				s.Trips = &mockTrips{calls: c, runFn: func(string) ([]domain.FileReport, error) {
					return []domain.FileReport{{File: "a.csv", Merged: 2}}, errDB
				}}
			},
			wantCalls: calls{"provision", "trips"},
			wantStage: "trips",
		},
		{
			name: "snapshots",
			breakIt: func(s *pipeline.Stages, c *calls) {
				s.Snapshots = &mockSnapshots{calls: c, runFn: func(string) (string, []domain.SnapshotReport, error) {
					return "", nil, errDB
				}}
			},
			wantCalls: calls{"provision", "trips", "snapshots"},
			wantStage: "snapshots",
		},
		{
			name: "weather",
			breakIt: func(s *pipeline.Stages, c *calls) {
				s.Weather = &mockWeather{calls: c, runFn: func(string) (int64, error) { return 0, errDB }}
			},
			wantCalls: calls{"provision", "trips", "snapshots", "weather"},
			wantStage: "weather",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c calls
			stages := happyStages(&c)
			tc.breakIt(&stages, &c)
			n := &mockNotifier{}
			stages.Notifier = n

			rep, err := pipeline.New(stages, nil).Run(context.Background(), t.TempDir())

			require.ErrorIs(t, err, errDB)
			assert.ErrorContains(t, err, tc.wantStage)
			assert.Equal(t, tc.wantCalls, c)
			assert.Equal(t, err.Error(), rep.Err)
			require.Len(t, n.got, 1, "failed runs are announced too")
			assert.Equal(t, rep.Err, n.got[0].Err)
		})
	}
}

func TestDriver_Run_partialTripReportSurvivesFailure(t *testing.T) {
	var c calls
	stages := happyStages(&c)
	stages.Trips = &mockTrips{calls: &c, runFn: func(string) ([]domain.FileReport, error) {
		return []domain.FileReport{{File: "a.csv", Merged: 2}}, errors.New("chunk 3: tx closed")
	}}

	rep, err := pipeline.New(stages, nil).Run(context.Background(), t.TempDir())

	require.Error(t, err)
	assert.EqualValues(t, 2, rep.RowsMerged())
}

func TestDriver_Run_optionalStages(t *testing.T) {
	var c calls
	stages := happyStages(&c)
	stages.Weather = nil

	rep, err := pipeline.New(stages, nil).Run(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, calls{"provision", "trips", "snapshots"}, c)
	assert.Zero(t, rep.Weather)
}

func TestDriver_Run_notifierFailureIsNotFatal(t *testing.T) {
	var c calls
	stages := happyStages(&c)
	stages.Notifier = &mockNotifier{err: errors.New("nats: timeout")}

	_, err := pipeline.New(stages, nil).Run(context.Background(), t.TempDir())

	assert.NoError(t, err)
}

// TestDriver_Run_notifiesAfterCancel verifies a cancelled run still gets a
// live context for its notification.
func TestDriver_Run_notifiesAfterCancel(t *testing.T) {
	var c calls
	ctx, cancel := context.WithCancel(context.Background())
	stages := happyStages(&c)
	stages.Trips = &mockTrips{calls: &c, runFn: func(string) ([]domain.FileReport, error) {
		cancel()
		return nil, context.Canceled
	}}
	n := &mockNotifier{}
	stages.Notifier = n

	_, err := pipeline.New(stages, nil).Run(ctx, t.TempDir())

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, n.ctxErr, 1)
	assert.NoError(t, n.ctxErr[0])
}

func TestDriver_Run_rawDirIsFile(t *testing.T) {
	var c calls
	raw := filepath.Join(t.TempDir(), "raw")
	require.NoError(t, os.WriteFile(raw, []byte("not a dir"), 0o644))

	_, err := pipeline.New(happyStages(&c), nil).Run(context.Background(), raw)

	assert.ErrorContains(t, err, "ensure raw dir")
	assert.Empty(t, c)
}

func TestDriver_LastReport(t *testing.T) {
	var c calls
	d := pipeline.New(happyStages(&c), nil)

	_, ok := d.LastReport()
	assert.False(t, ok)

	rep, err := d.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	got, ok := d.LastReport()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, got.RunID)
}
