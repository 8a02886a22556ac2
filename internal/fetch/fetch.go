package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"aqbias/internal/metrics"
	"aqbias/internal/models"
)

// maxStations caps how many stations feed the fusion step. Five balances
// fusion quality against fetch cost.
const maxStations = 5

// ErrNoDataRetrieved means every ranked station failed to yield measurements.
// Fatal for the location.
var ErrNoDataRetrieved = errors.New("no station yielded measurements")

// Measurer is the slice of the API client the fetcher needs.
type Measurer interface {
	Measurements(ctx context.Context, stationID int64, variable string, start, end time.Time) ([]models.Sample, string, error)
}

// StationResult records the outcome of one station attempt: either a series
// or the reason the station was skipped. Skips never abort the run.
type StationResult struct {
	Station models.RankedStation
	Series  *models.ObservationSeries
	Err     error
}

type Fetcher struct {
	api Measurer
}

func New(api Measurer) *Fetcher {
	return &Fetcher{api: api}
}

// Fetch walks the ranked list in order, collecting series until maxStations
// stations have yielded data or the list is exhausted. Context cancellation
// aborts immediately; everything else is recorded per station and skipped.
func (f *Fetcher) Fetch(ctx context.Context, loc models.Location, variable string, ranked []models.RankedStation, start, end time.Time) ([]models.ObservationSeries, []StationResult, error) {
	var series []models.ObservationSeries
	results := make([]StationResult, 0, len(ranked))

	for _, st := range ranked {
		if len(series) == maxStations {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}

		if !supportsVariable(st.StationCandidate, variable) {
			// Directory metadata listed the station for this variable but the
			// station's own parameter list disagrees.
			err := fmt.Errorf("station %d does not report %s", st.ID, variable)
			results = append(results, StationResult{Station: st, Err: err})
			metrics.StationsFetched.WithLabelValues("variable_missing").Inc()
			continue
		}

		samples, unit, err := f.api.Measurements(ctx, st.ID, variable, start, end)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, results, err
			}
			log.Printf("fetch: skipping station %d for %s: %v", st.ID, loc.ID, err)
			results = append(results, StationResult{Station: st, Err: err})
			metrics.StationsFetched.WithLabelValues("error").Inc()
			continue
		}
		if len(samples) == 0 {
			err := fmt.Errorf("station %d has no data in requested range", st.ID)
			results = append(results, StationResult{Station: st, Err: err})
			metrics.StationsFetched.WithLabelValues("empty").Inc()
			continue
		}

		s := models.ObservationSeries{
			StationID:   st.ID,
			StationLat:  st.Latitude,
			StationLon:  st.Longitude,
			LocationLat: loc.Latitude,
			LocationLon: loc.Longitude,
			DistanceKm:  math.Round(st.DistanceKm*100) / 100,
			Variable:    variable,
			Unit:        unit,
			Samples:     samples,
		}
		series = append(series, s)
		results = append(results, StationResult{Station: st, Series: &series[len(series)-1]})
		metrics.StationsFetched.WithLabelValues("ok").Inc()
	}

	if len(series) == 0 {
		return nil, results, ErrNoDataRetrieved
	}
	return series, results, nil
}

func supportsVariable(st models.StationCandidate, variable string) bool {
	for _, p := range st.Parameters {
		if p == variable {
			return true
		}
	}
	return false
}
