package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Sensor quality classes reported by the station directory. Reference-grade
// instruments are preferred over low-cost sensors when both are available.
const (
	SensorReferenceGrade = "reference grade"
	SensorLowCost        = "low-cost sensor"
)

// Location is a geographic point of interest read from the locations CSV.
// It is immutable after loading; the distance to the matched station travels
// on MatchResult rather than being written back here.
type Location struct {
	ID        string
	City      string
	Country   string
	Latitude  float64
	Longitude float64
	Timezone  string
	Elevation float64
}

func (l Location) String() string {
	return fmt.Sprintf("Location(id=%s, city=%s, country=%s, latitude=%v, longitude=%v)",
		l.ID, l.City, l.Country, l.Latitude, l.Longitude)
}

// MatchResult summarises the station matching step for one location.
type MatchResult struct {
	StationsMatched int
	StationsFetched int
	NearestKm       float64
}

// StationCandidate is one station returned by the directory query. Read-only,
// fetched fresh per run.
type StationCandidate struct {
	ID         int64
	Name       string
	Latitude   float64
	Longitude  float64
	SensorType string
	FirstSeen  time.Time
	LastSeen   time.Time
	Parameters []string
}

// RankedStation is a candidate with its computed distance and temporal
// coverage. Coverage is in (0,1] (1 = the requested range is fully covered);
// stations whose data ends before the requested range never make it here.
type RankedStation struct {
	StationCandidate
	DistanceKm float64
	Coverage   float64
}

// RankKey is the composite ordering key: closer stations with better coverage
// rank first. A single scalar deliberately conflates the two objectives;
// both fields stay exposed for callers that want their own comparator.
func (r RankedStation) RankKey() float64 {
	return r.DistanceKm / r.Coverage
}

// Sample is one timestamped measurement value. Timestamps are UTC.
type Sample struct {
	Time  time.Time
	Value float64
}

// ObservationSeries is the raw measurement series for one station/variable,
// tagged with the station and target location geometry. Created per fetched
// station, consumed by the fuser, then discarded.
type ObservationSeries struct {
	StationID   int64
	StationLat  float64
	StationLon  float64
	LocationLat float64
	LocationLon float64
	DistanceKm  float64
	Variable    string
	Unit        string
	Samples     []Sample
}

// FusedObservation is one series per location/variable produced by fusing
// 1..N station series. Timestamps where no station reported carry an invalid
// NullFloat64, never a fabricated value.
type FusedObservation struct {
	Variable string
	Times    []time.Time
	Values   []sql.NullFloat64
}

// MergedRecord is one row of the bias-correction training table: forecast and
// observed values on the forecast cadence, their difference, and the hour of
// day at the location's timezone.
type MergedRecord struct {
	Time          time.Time
	Forecast      float64
	Observed      float64
	Bias          float64
	LocalTimeHour int
}
