// Package tripid derives the deterministic identity of a trip record.
//
// The identity is the lower-hex MD5 of six discriminating fields joined with
// "|". It is the join key for deduplication in raw.trips, so the field order,
// the separator and the timestamp rendering must never change: doing so would
// orphan every row already loaded.
//
// Two distinct trips that agree on all six fields share an identity. That is
// a known limitation of the key and is kept as is.
package tripid

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Separator joins the discriminating fields before hashing.
const Separator = "|"

const (
	layoutSeconds = "2006-01-02 15:04:05-07:00"
	layoutMicros  = "2006-01-02 15:04:05.000000-07:00"
	layoutNanos   = "2006-01-02 15:04:05.000000000-07:00"
)

// Fields returns the six discriminating fields of r in hashing order:
// started_at, ended_at, start_station_id, end_station_id, member_casual,
// rideable_type. Nil values become the empty string.
func Fields(r domain.TripRecord) [6]string {
	return [6]string{
		FormatTime(r.StartedAt),
		FormatTime(r.EndedAt),
		deref(r.StartStationID),
		deref(r.EndStationID),
		deref(r.MemberCasual),
		deref(r.RideableType),
	}
}

// Sum hashes already-rendered fields.
func Sum(fields [6]string) string {
	h := md5.Sum([]byte(strings.Join(fields[:], Separator)))
	return hex.EncodeToString(h[:])
}

// Of returns the identity of r.
func Of(r domain.TripRecord) string {
	return Sum(Fields(r))
}

// FormatTime renders a timestamp in UTC as "2006-01-02 15:04:05+00:00".
// A fraction is only printed when present: six digits for microsecond
// precision, nine when nanoseconds are set.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	u := t.UTC()
	switch ns := u.Nanosecond(); {
	case ns == 0:
		return u.Format(layoutSeconds)
	case ns%1000 == 0:
		return u.Format(layoutMicros)
	default:
		return u.Format(layoutNanos)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
