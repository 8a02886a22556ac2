package stations

import (
	"errors"
	"sort"
	"time"

	"aqbias/internal/geo"
	"aqbias/internal/models"
)

// ErrNoStationsFound means the directory returned zero candidates for the
// location/variable. Hard stop for that location; no silent fallback.
var ErrNoStationsFound = errors.New("no stations found near location for variable")

// CoverageOutOfRange marks a station whose data ends before the requested
// range begins. Such stations are dropped before ranking.
const CoverageOutOfRange = -1.0

// Select applies the sensor-quality filter. If any candidate is reference
// grade, only reference-grade candidates are kept: quality over recall.
func Select(candidates []models.StationCandidate) ([]models.StationCandidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoStationsFound
	}
	var reference []models.StationCandidate
	for _, c := range candidates {
		if c.SensorType == models.SensorReferenceGrade {
			reference = append(reference, c)
		}
	}
	if len(reference) > 0 {
		return reference, nil
	}
	return candidates, nil
}

// CoverageScore compares a station's [first, last] data interval against the
// requested [start, end] window:
//
//	1.0                 requested range fully inside the station interval
//	CoverageOutOfRange  station data ends before the requested range begins
//	fraction in [0,1)   share of the hourly timestamps in [start, end] that
//	                    fall inside the station interval
//
// The fraction assumes hourly reporting, so it approximates true data
// density; it only orders candidates.
func CoverageScore(first, last, start, end time.Time) float64 {
	if !first.After(start) && !last.Before(end) {
		return 1.0
	}
	if last.Before(start) {
		return CoverageOutOfRange
	}

	total := hourlySteps(start, end)
	if total == 0 {
		return CoverageOutOfRange
	}

	// Index range of hourly timestamps start+k*1h that land in [first, last].
	lo := int64(0)
	if first.After(start) {
		d := first.Sub(start)
		lo = int64((d + time.Hour - 1) / time.Hour)
	}
	hi := total - 1
	if last.Before(end) {
		hi = int64(last.Sub(start) / time.Hour)
	}
	if hi < lo {
		return 0
	}
	return float64(hi-lo+1) / float64(total)
}

func hourlySteps(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start)/time.Hour) + 1
}

// Rank computes distance and coverage for each candidate, drops stations
// entirely outside the requested range, and orders the rest ascending by
// distance/coverage.
func Rank(loc models.Location, candidates []models.StationCandidate, start, end time.Time) ([]models.RankedStation, error) {
	ranked := make([]models.RankedStation, 0, len(candidates))
	for _, c := range candidates {
		d, err := geo.Distance(loc.Latitude, loc.Longitude, c.Latitude, c.Longitude)
		if err != nil {
			return nil, err
		}
		score := CoverageScore(c.FirstSeen, c.LastSeen, start, end)
		if score == CoverageOutOfRange {
			continue
		}
		ranked = append(ranked, models.RankedStation{
			StationCandidate: c,
			DistanceKm:       d,
			Coverage:         score,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RankKey() < ranked[j].RankKey()
	})
	return ranked, nil
}
