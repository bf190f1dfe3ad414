package weather_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/weather"
)

type mockAppender struct {
	err  error
	feed domain.Feed
	docs []domain.SnapshotDocument
}

func (m *mockAppender) AppendMany(_ context.Context, feed domain.Feed, docs []domain.SnapshotDocument) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.feed = feed
	m.docs = append(m.docs, docs...)
	return int64(len(docs)), nil
}

type rowCounter struct{ rows int64 }

func (c *rowCounter) WeatherAppended(rows int64) { c.rows += rows }

func writeCSV(t *testing.T, raw, name, body string) {
	t.Helper()
	dir := filepath.Join(raw, weather.Dir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoader_Run(t *testing.T) {
	raw := t.TempDir()
	writeCSV(t, raw, "weather_nyc.csv",
		"date_key,tavg_c,tmin,prcp_mm,snow,wind_kph\n"+
			"2024-01-01,3.4,1.1,0.0,,12.2\n"+
			"2024-01-02,-0.5,-3.0,4.2,,9.0\n")

	store := &mockAppender{}
	c := &rowCounter{}
	n, err := weather.New(store, nil, c).Run(context.Background(), raw)

	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 2, c.rows)
	assert.Equal(t, domain.WeatherFeed, store.feed)
	require.Len(t, store.docs, 2)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), store.docs[0].TS)
	assert.JSONEq(t,
		`{"date_key":"2024-01-01","tavg_c":3.4,"tmin":1.1,"prcp_mm":0,"snow":null,"wind_kph":12.2}`,
		string(store.docs[0].Doc))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), store.docs[1].TS)
}

func TestLoader_Run_timeColumnFallbacks(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := t.TempDir()
	writeCSV(t, raw, "a_hourly.csv", "time,temp\n2024-03-01 13:00:00,7\n")
	writeCSV(t, raw, "b_undated.csv", "station,temp\nKNYC,8\n")

	store := &mockAppender{}
	l := weather.New(store, nil, nil).WithClock(func() time.Time { return now })
	_, err := l.Run(context.Background(), raw)

	require.NoError(t, err)
	require.Len(t, store.docs, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), store.docs[0].TS)
	assert.Equal(t, now, store.docs[1].TS)
	assert.JSONEq(t, `{"station":"KNYC","temp":8}`, string(store.docs[1].Doc))
}

func TestLoader_Run_missingDirectory(t *testing.T) {
	store := &mockAppender{}

	n, err := weather.New(store, nil, nil).Run(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.docs)
}

func TestLoader_Run_emptyFile(t *testing.T) {
	raw := t.TempDir()
	writeCSV(t, raw, "empty.csv", "")

	n, err := weather.New(&mockAppender{}, nil, nil).Run(context.Background(), raw)

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoader_Run_storeError(t *testing.T) {
	raw := t.TempDir()
	writeCSV(t, raw, "weather_nyc.csv", "date_key,tavg_c\n2024-01-01,3.4\n")
	errConn := errors.New("connection reset")

	_, err := weather.New(&mockAppender{err: errConn}, nil, nil).Run(context.Background(), raw)

	assert.ErrorIs(t, err, errConn)
	assert.ErrorContains(t, err, "weather_nyc.csv")
}

func TestLoader_Run_nonFiniteCellsStayStrings(t *testing.T) {
	raw := t.TempDir()
	writeCSV(t, raw, "w.csv", "date,tavg_c,note\n2024-01-01,NaN,Inf\n")

	store := &mockAppender{}
	_, err := weather.New(store, nil, nil).Run(context.Background(), raw)

	require.NoError(t, err)
	require.Len(t, store.docs, 1)
	assert.JSONEq(t, `{"date":"2024-01-01","tavg_c":"NaN","note":"Inf"}`, string(store.docs[0].Doc))
}
