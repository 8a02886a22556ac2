package merge

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"aqbias/internal/grid"
	"aqbias/internal/locations"
	"aqbias/internal/models"
	"aqbias/internal/openaq"
)

// Forecast output arrives on a 3-hour cadence; observations are averaged
// into the same buckets before joining.
const forecastCadence = 3 * time.Hour

// ErrNoGroundTruth means fusion produced no usable observation overlap with
// the forecast window. There is nothing to correct against; fatal for the
// location/variable pair.
var ErrNoGroundTruth = errors.New("no observations to correct against")

// Merger aligns a fused observation series with forecast grid output for one
// location/variable and derives the bias training columns.
type Merger struct {
	loc      models.Location
	variable string
	tz       *time.Location
}

func New(loc models.Location, variable string) (*Merger, error) {
	if err := openaq.ValidateVariable(variable); err != nil {
		return nil, err
	}
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", locations.ErrInvalidLocation, loc.Timezone, err)
	}
	return &Merger{loc: loc, variable: variable, tz: tz}, nil
}

// Merge converts units on both sides, resamples observations to the forecast
// cadence, inner-joins on timestamp and computes bias and local-time-hour.
// Rows without an observed value are dropped: bias cannot be computed
// without ground truth.
func (m *Merger) Merge(ds *grid.Dataset, fused models.FusedObservation) ([]models.MergedRecord, error) {
	forecastVals, ok := ds.Vars[m.variable]
	if !ok {
		return nil, fmt.Errorf("grid data has no variable %s", m.variable)
	}
	t2m := ds.Vars["t2m"]
	msl := ds.Vars["msl"]

	observed := m.resample(fused)
	if len(observed) == 0 {
		return nil, fmt.Errorf("%w: location %s, variable %s", ErrNoGroundTruth, m.loc.ID, m.variable)
	}

	records := make([]models.MergedRecord, 0, len(ds.Times))
	for i, ts := range ds.Times {
		obs, ok := observed[bucket(ts)]
		if !ok {
			continue
		}
		density := airDensity(surfacePressure(msl[i], t2m[i], m.loc.Elevation), t2m[i])
		forecast := forecastToMicrograms(forecastVals[i], density)
		records = append(records, models.MergedRecord{
			Time:          ts,
			Forecast:      forecast,
			Observed:      obs,
			Bias:          forecast - obs,
			LocalTimeHour: ts.In(m.tz).Hour(),
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no overlap between forecast and observations for %s", ErrNoGroundTruth, m.loc.ID)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Time.Before(records[j].Time) })
	return records, nil
}

// resample converts observation units and averages non-missing values into
// forecast-cadence buckets. Buckets where every station was missing simply
// do not appear: the join drops them anyway.
func (m *Merger) resample(fused models.FusedObservation) map[int64]float64 {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for i, ts := range fused.Times {
		if !fused.Values[i].Valid {
			continue
		}
		v := fused.Values[i].Float64
		if m.variable == "o3" {
			v = observedOzoneToMicrograms(v)
		}
		key := bucket(ts)
		sums[key] += v
		counts[key]++
	}

	out := make(map[int64]float64, len(sums))
	for key, sum := range sums {
		out[key] = sum / float64(counts[key])
	}
	return out
}

func bucket(ts time.Time) int64 {
	return ts.UTC().Truncate(forecastCadence).Unix()
}
