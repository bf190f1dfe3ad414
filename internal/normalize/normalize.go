// Package normalize maps trip exports from every historical naming era onto
// domain.TripRecord.
//
// Raw rows are loosely typed (column name to string) and never leave this
// package: callers bind a header once with NewHeader and then turn each CSV
// row into a fixed-shape record with Header.Record. Every field has an
// explicit parse-or-null rule, so a bad cell degrades that field to nil and
// never fails the row.
package normalize

import (
	"slices"
	"strings"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/tripid"
)

type field int

const (
	startedAt field = iota
	endedAt
	startStationID
	startStationName
	endStationID
	endStationName
	startLat
	startLng
	endLat
	endLng
	memberCasual
	rideableType
	numFields
)

// canonical holds the source-level canonical names, indexed by field.
var canonical = [numFields]string{
	startedAt:        "started_at",
	endedAt:          "ended_at",
	startStationID:   "start_station_id",
	startStationName: "start_station_name",
	endStationID:     "end_station_id",
	endStationName:   "end_station_name",
	startLat:         "start_lat",
	startLng:         "start_lng",
	endLat:           "end_lat",
	endLng:           "end_lng",
	memberCasual:     "member_casual",
	rideableType:     "rideable_type",
}

// aliases maps legacy column names (already passed through Column) onto
// canonical fields. Order matters: an alias only fills a field that neither
// its canonical column nor an earlier alias has claimed.
var aliases = []struct {
	name string
	to   field
}{
	{"starttime", startedAt},
	{"start time", startedAt},
	{"stoptime", endedAt},
	{"stop time", endedAt},
	{"start station id", startStationID},
	{"end station id", endStationID},
	{"start station name", startStationName},
	{"end station name", endStationName},
	{"start station latitude", startLat},
	{"start station longitude", startLng},
	{"end station latitude", endLat},
	{"end station longitude", endLng},
	{"usertype", memberCasual},
	{"user type", memberCasual},
	// Pre-2020 exports have no vehicle type; the bike id stands in for it.
	{"bikeid", rideableType},
	{"bike id", rideableType},
}

// Column folds a header cell for matching: BOM and surrounding whitespace
// removed, inner whitespace runs collapsed to one space, lower-cased.
func Column(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Header is a CSV header bound to the canonical fields.
type Header struct {
	index [numFields]int // column position, -1 when absent
}

// NewHeader binds columns to canonical fields. When two columns fold to the
// same name the first one wins.
func NewHeader(columns []string) Header {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		name := Column(c)
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}

	var h Header
	for f := range numFields {
		h.index[f] = -1
		if i, ok := pos[canonical[f]]; ok {
			h.index[f] = i
		}
	}
	for _, a := range aliases {
		if h.index[a.to] >= 0 {
			continue
		}
		if i, ok := pos[a.name]; ok {
			h.index[a.to] = i
		}
	}
	return h
}

// Unmapped returns the canonical fields the header cannot supply, in
// canonical order. Those fields are always nil in records from this header.
func (h Header) Unmapped() []string {
	var out []string
	for f := range numFields {
		if h.index[f] < 0 {
			out = append(out, canonical[f])
		}
	}
	return out
}

// Record converts one CSV row into a canonical record with its TripID set.
// SourceFile is left for the caller. Short rows yield nil for the missing
// trailing fields.
func (h Header) Record(row []string) domain.TripRecord {
	cell := func(f field) string {
		i := h.index[f]
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	r := domain.TripRecord{
		StartedAt:        ParseTime(cell(startedAt)),
		EndedAt:          ParseTime(cell(endedAt)),
		StartStationID:   ParseString(cell(startStationID)),
		StartStationName: ParseString(cell(startStationName)),
		EndStationID:     ParseString(cell(endStationID)),
		EndStationName:   ParseString(cell(endStationName)),
		StartLat:         ParseFloat(cell(startLat)),
		StartLng:         ParseFloat(cell(startLng)),
		EndLat:           ParseFloat(cell(endLat)),
		EndLng:           ParseFloat(cell(endLng)),
		MemberCasual:     RiderCategory(cell(memberCasual)),
		RideableType:     ParseString(cell(rideableType)),
	}
	r.DurationSeconds = Duration(r.StartedAt, r.EndedAt)
	r.TripID = tripid.Of(r)
	return r
}

// Row normalizes a single loosely typed row. Columns are bound in sorted key
// order so the result does not depend on map iteration.
func Row(m map[string]string) domain.TripRecord {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return NewHeader(keys).Record(values)
}
