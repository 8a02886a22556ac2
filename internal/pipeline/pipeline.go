package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"aqbias/internal/artifact"
	"aqbias/internal/fetch"
	"aqbias/internal/fuse"
	"aqbias/internal/grid"
	"aqbias/internal/merge"
	"aqbias/internal/models"
	"aqbias/internal/openaq"
	"aqbias/internal/stations"
	"aqbias/internal/store"
)

// SearchRadiusMeters is the directory query radius around each location.
const SearchRadiusMeters = 100_000

// API is the station directory / measurement surface the pipeline needs.
type API interface {
	Locations(ctx context.Context, variable string, lat, lon float64, radiusMeters int) ([]models.StationCandidate, error)
	fetch.Measurer
}

type Config struct {
	OutputDir string
	// GridDir enables the merge step. Empty means extract-only.
	GridDir string
	// GridFetcher, when set, downloads missing grid files.
	GridFetcher *grid.Fetcher
	// Store, when set, records per-location outcomes.
	Store *store.Store
}

type Pipeline struct {
	api     API
	fetcher *fetch.Fetcher
	cfg     Config
}

func New(api API, cfg Config) *Pipeline {
	return &Pipeline{
		api:     api,
		fetcher: fetch.New(api),
		cfg:     cfg,
	}
}

// Result is the outcome of one location's run. The matched-station distance
// lives here, next to the immutable Location, not on it.
type Result struct {
	Location         models.Location
	Match            models.MatchResult
	ObservationsPath string
	MergedPath       string
	SkippedFetch     bool
}

// Run executes the full pipeline for one location/variable: select, rank,
// fetch, write the observation artifact, then (when a grid directory is
// configured) fuse, merge and write the training artifact. If the
// observation artifact already exists the fetch is skipped entirely and the
// stored series are reused.
func (p *Pipeline) Run(ctx context.Context, loc models.Location, variable string, start, end time.Time) (*Result, error) {
	if err := openaq.ValidateVariable(variable); err != nil {
		return nil, err
	}

	obsPath := artifact.ObservationsPath(p.cfg.OutputDir, loc, variable, start, end)
	res := &Result{Location: loc, ObservationsPath: obsPath}

	var series []models.ObservationSeries
	if _, err := os.Stat(obsPath); err == nil {
		log.Printf("pipeline: observations already exist at %s", obsPath)
		res.SkippedFetch = true
		ds, err := artifact.ReadObservations(obsPath)
		if err != nil {
			return nil, err
		}
		series, err = ds.Series()
		if err != nil {
			return nil, err
		}
		res.Match.StationsMatched = len(series)
	} else {
		candidates, err := p.api.Locations(ctx, variable, loc.Latitude, loc.Longitude, SearchRadiusMeters)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", loc.ID, err)
		}
		selected, err := stations.Select(candidates)
		if err != nil {
			return nil, fmt.Errorf("location %s, variable %s: %w", loc.ID, variable, err)
		}
		ranked, err := stations.Rank(loc, selected, start, end)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", loc.ID, err)
		}
		res.Match.StationsMatched = len(ranked)

		series, _, err = p.fetcher.Fetch(ctx, loc, variable, ranked, start, end)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", loc.ID, err)
		}

		ds := artifact.NewObservationDataset(loc, variable, series)
		if err := artifact.WriteFile(obsPath, ds); err != nil {
			return nil, fmt.Errorf("location %s: %w", loc.ID, err)
		}
		log.Printf("pipeline: observations written to %s", obsPath)
	}

	res.Match.StationsFetched = len(series)
	res.Match.NearestKm = nearest(series)

	if p.cfg.GridDir != "" {
		mergedPath, err := p.runMerge(loc, variable, start, end, series, res.Match.NearestKm)
		if err != nil {
			return nil, err
		}
		res.MergedPath = mergedPath
	}
	return res, nil
}

func (p *Pipeline) runMerge(loc models.Location, variable string, start, end time.Time, series []models.ObservationSeries, nearestKm float64) (string, error) {
	gridPath := grid.Path(p.cfg.GridDir, loc, start, end)
	if _, err := os.Stat(gridPath); os.IsNotExist(err) && p.cfg.GridFetcher != nil {
		if err := p.cfg.GridFetcher.Fetch(grid.Path("", loc, start, end), gridPath); err != nil {
			return "", fmt.Errorf("location %s: %w", loc.ID, err)
		}
	}
	ds, err := grid.Load(gridPath)
	if err != nil {
		return "", fmt.Errorf("location %s: %w", loc.ID, err)
	}

	fused, err := fuse.Fuse(series)
	if err != nil {
		return "", fmt.Errorf("location %s: %w", loc.ID, err)
	}

	merger, err := merge.New(loc, variable)
	if err != nil {
		return "", err
	}
	records, err := merger.Merge(ds, fused)
	if err != nil {
		return "", fmt.Errorf("location %s: %w", loc.ID, err)
	}

	mergedPath := artifact.MergedPath(p.cfg.OutputDir, loc, variable, start, end)
	merged := artifact.NewMergedDataset(loc, variable, nearestKm, records)
	if err := artifact.WriteFile(mergedPath, merged); err != nil {
		return "", fmt.Errorf("location %s: %w", loc.ID, err)
	}
	log.Printf("pipeline: training table written to %s", mergedPath)
	return mergedPath, nil
}

func nearest(series []models.ObservationSeries) float64 {
	var min float64
	for i, s := range series {
		if i == 0 || s.DistanceKm < min {
			min = s.DistanceKm
		}
	}
	return min
}
