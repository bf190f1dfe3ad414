package domain

import (
	"encoding/json"
	"time"
)

// SnapshotDocument is a point-in-time capture of an external feed, stored
// verbatim. Doc is never inspected beyond reading the capture timestamp.
type SnapshotDocument struct {
	TS  time.Time
	Doc json.RawMessage
}

// Feed names one append-only document store and the file that feeds it.
type Feed struct {
	Name  string // e.g. "station_status"
	File  string // file name inside a capture directory
	Table string // table in the raw schema
}

// GBFSFeeds is the fixed set of GBFS documents loaded from each capture.
var GBFSFeeds = []Feed{
	{Name: "station_information", File: "station_information.json", Table: "gbfs_station_information"},
	{Name: "station_status", File: "station_status.json", Table: "gbfs_station_status"},
	{Name: "system_regions", File: "system_regions.json", Table: "gbfs_system_regions"},
}

// WeatherFeed stores one document per weather observation row.
var WeatherFeed = Feed{Name: "weather", Table: "weather_raw"}

// DocumentFeeds lists every feed with a provisioned documents table.
func DocumentFeeds() []Feed {
	feeds := make([]Feed, 0, len(GBFSFeeds)+1)
	feeds = append(feeds, GBFSFeeds...)
	return append(feeds, WeatherFeed)
}
