package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts covers every trip export era seen so far, most common first.
// Fractional seconds after the seconds field are accepted by time.Parse
// without being spelled out in the layout.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02",
}

// ParseTime parses s as a UTC timestamp. Values without a zone are taken as
// UTC; values with an offset are converted. Empty or unparseable input
// returns nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ParseFloat parses a coordinate. Empty, unparseable, NaN and infinite
// values return nil.
func ParseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseString trims s and returns nil when nothing is left.
func ParseString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// RiderCategory lower-cases the rider type and folds the legacy
// "subscriber"/"customer" values onto "member"/"casual". Unknown categories
// pass through lower-cased.
func RiderCategory(s string) *string {
	v := ParseString(s)
	if v == nil {
		return nil
	}
	c := strings.ToLower(*v)
	switch c {
	case "subscriber":
		c = "member"
	case "customer":
		c = "casual"
	}
	return &c
}

// MaxDuration is the largest span, in seconds, the trips store can hold.
const MaxDuration = math.MaxInt32

// Duration returns end-start in whole seconds, truncated. It returns 0 when
// either bound is missing, the span is negative, or the span exceeds
// MaxDuration (placeholder dates such as 1900-01-01).
func Duration(start, end *time.Time) int64 {
	if start == nil || end == nil || end.Before(*start) {
		return 0
	}
	d := int64(end.Sub(*start) / time.Second)
	if d > MaxDuration {
		return 0
	}
	return d
}
