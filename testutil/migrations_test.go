package testutil_test

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/bikeshare-etl/migrations"
)

var createStmt = regexp.MustCompile(`(?i)^CREATE (SCHEMA|TABLE) IF NOT EXISTS `)

// TestMigrations_createIfAbsentOnly verifies that every statement in the
// embedded migrations is a create-if-absent statement, so provisioning can
// never drop or alter an existing warehouse table.
func TestMigrations_createIfAbsentOnly(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one embedded migration")

	for _, name := range files {
		body, err := fs.ReadFile(migrations.FS, name)
		require.NoError(t, err)

		for _, stmt := range statements(string(body)) {
			assert.Regexp(t, createStmt, stmt, "%s: unexpected statement", name)
		}
	}
}

// TestMigrations_declaresEveryStore verifies the trips table and every
// document table are declared.
func TestMigrations_declaresEveryStore(t *testing.T) {
	body, err := fs.ReadFile(migrations.FS, "00001_create_raw_schema.sql")
	require.NoError(t, err)

	for _, table := range []string{
		"raw.trips",
		"raw.gbfs_station_information",
		"raw.gbfs_station_status",
		"raw.gbfs_system_regions",
		"raw.weather_raw",
	} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, string(body), "trip_id            TEXT PRIMARY KEY")
}

// statements strips comment lines and splits the remainder on ';'.
func statements(sql string) []string {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var out []string
	for _, s := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
