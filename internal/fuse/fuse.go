package fuse

import (
	"database/sql"
	"errors"
	"math"
	"sort"
	"time"

	"aqbias/internal/models"
)

// Fuse reduces 1..N per-station series for one location into a single series
// on the union of the input time grids, weighting each station by inverse
// distance. Weights are normalized per timestamp over only the stations that
// reported at that timestamp; timestamps with no reporting station keep an
// explicit missing marker.
func Fuse(series []models.ObservationSeries) (models.FusedObservation, error) {
	if len(series) == 0 {
		return models.FusedObservation{}, errors.New("fuse: no input series")
	}
	if len(series) == 1 {
		return passthrough(series[0]), nil
	}

	type station struct {
		weight float64
		values map[int64]float64
	}

	gridSet := make(map[int64]struct{})
	stationsData := make([]station, 0, len(series))
	for _, s := range series {
		values := make(map[int64]float64, len(s.Samples))
		for _, sample := range s.Samples {
			key := sample.Time.UTC().UnixNano()
			values[key] = sample.Value
			gridSet[key] = struct{}{}
		}
		stationsData = append(stationsData, station{
			weight: roundWeight(s.DistanceKm),
			values: values,
		})
	}

	grid := make([]int64, 0, len(gridSet))
	for key := range gridSet {
		grid = append(grid, key)
	}
	sort.Slice(grid, func(i, j int) bool { return grid[i] < grid[j] })

	fused := models.FusedObservation{
		Variable: series[0].Variable,
		Times:    make([]time.Time, 0, len(grid)),
		Values:   make([]sql.NullFloat64, 0, len(grid)),
	}
	for _, key := range grid {
		var weightSum, valueSum float64
		for _, st := range stationsData {
			v, ok := st.values[key]
			if !ok {
				continue
			}
			weightSum += st.weight
			valueSum += st.weight * v
		}
		fused.Times = append(fused.Times, time.Unix(0, key).UTC())
		if weightSum == 0 {
			fused.Values = append(fused.Values, sql.NullFloat64{})
		} else {
			fused.Values = append(fused.Values, sql.NullFloat64{Float64: valueSum / weightSum, Valid: true})
		}
	}
	return fused, nil
}

func passthrough(s models.ObservationSeries) models.FusedObservation {
	fused := models.FusedObservation{
		Variable: s.Variable,
		Times:    make([]time.Time, 0, len(s.Samples)),
		Values:   make([]sql.NullFloat64, 0, len(s.Samples)),
	}
	for _, sample := range s.Samples {
		fused.Times = append(fused.Times, sample.Time.UTC())
		fused.Values = append(fused.Values, sql.NullFloat64{Float64: sample.Value, Valid: true})
	}
	return fused
}

// roundWeight is 1/distance rounded to two decimals, matching the precision
// of the distance metadata carried on the series. Stations closer than 10 m
// are clamped to avoid an infinite weight.
func roundWeight(distanceKm float64) float64 {
	if distanceKm < 0.01 {
		distanceKm = 0.01
	}
	return math.Round(100/distanceKm) / 100
}
