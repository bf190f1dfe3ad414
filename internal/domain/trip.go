// Package domain contains the core data types for the bike-share loader.
// It is imported by every other internal package (normalize, tripid, ingest,
// repo, snapshot) and depends on nothing but the standard library and uuid.
package domain

import "time"

// TripRecord is one bike-share trip in its canonical, post-normalization shape.
// Pointer fields are nil when the source had no value or the value could not
// be parsed; they are written to the store as NULL.
type TripRecord struct {
	// TripID is derived from the six discriminating fields (see package tripid).
	TripID string

	StartedAt *time.Time // UTC
	EndedAt   *time.Time // UTC

	StartStationID   *string
	StartStationName *string
	EndStationID     *string
	EndStationName   *string

	StartLat *float64
	StartLng *float64
	EndLat   *float64
	EndLng   *float64

	// MemberCasual is "member", "casual", or the lower-cased raw category.
	MemberCasual *string
	// RideableType is the vehicle type. Legacy exports only carry a bike id,
	// which is used here as a degraded identity signal.
	RideableType *string

	// DurationSeconds is EndedAt-StartedAt in whole seconds, or 0 when that
	// cannot be computed. Zero does not mean an instant trip.
	DurationSeconds int64

	// SourceFile is the base name of the CSV the row was read from.
	SourceFile string
}

// TripColumns lists the raw.trips columns in their fixed order.
// Values returns a row in the same order.
var TripColumns = []string{
	"trip_id",
	"started_at", "ended_at",
	"start_station_id", "start_station_name",
	"end_station_id", "end_station_name",
	"start_lat", "start_lng", "end_lat", "end_lng",
	"member_casual", "rideable_type",
	"duration_seconds",
	"source_file",
}

// Values returns the record as a row matching TripColumns.
// Nil pointers become untyped nils so drivers encode them as NULL.
func (r TripRecord) Values() []any {
	return []any{
		r.TripID,
		timeOrNil(r.StartedAt), timeOrNil(r.EndedAt),
		stringOrNil(r.StartStationID), stringOrNil(r.StartStationName),
		stringOrNil(r.EndStationID), stringOrNil(r.EndStationName),
		floatOrNil(r.StartLat), floatOrNil(r.StartLng), floatOrNil(r.EndLat), floatOrNil(r.EndLng),
		stringOrNil(r.MemberCasual), stringOrNil(r.RideableType),
		r.DurationSeconds,
		r.SourceFile,
	}
}

// MergeFrom applies the store's conflict policy for a record with the same
// TripID: every field is kept except DurationSeconds and SourceFile, which
// are taken from next.
func (r *TripRecord) MergeFrom(next TripRecord) {
	r.DurationSeconds = next.DurationSeconds
	r.SourceFile = next.SourceFile
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
