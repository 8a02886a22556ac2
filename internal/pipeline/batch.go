package pipeline

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"aqbias/internal/metrics"
	"aqbias/internal/models"
	"aqbias/internal/store"
)

// BatchResult counts location outcomes for one batch run.
type BatchResult struct {
	Successes int
	Failures  int
}

// RunBatch processes the locations with a bounded worker pool. Each
// location's pipeline is independent: failures are logged and the batch
// continues. Returns once every location has been attempted or the context
// is cancelled.
func (p *Pipeline) RunBatch(ctx context.Context, locs []models.Location, variable string, start, end time.Time, concurrency int) BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var br BatchResult

	for _, loc := range locs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(loc models.Location) {
			defer wg.Done()
			defer func() { <-sem }()

			startedAt := time.Now().UTC()
			log.Printf("pipeline: starting %s", loc)
			res, err := p.Run(ctx, loc, variable, start, end)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("pipeline: location %s failed: %v", loc.ID, err)
				metrics.LocationsProcessed.WithLabelValues("failed").Inc()
				br.Failures++
				p.logRun(loc, variable, "failed", nil, err, startedAt)
				return
			}

			status := "ok"
			if res.SkippedFetch {
				status = "skipped"
			}
			log.Printf("pipeline: location %s done (%d stations, nearest %.2f km)",
				loc.ID, res.Match.StationsFetched, res.Match.NearestKm)
			metrics.LocationsProcessed.WithLabelValues(status).Inc()
			br.Successes++
			p.logRun(loc, variable, status, res, nil, startedAt)
		}(loc)
	}
	wg.Wait()
	return br
}

func (p *Pipeline) logRun(loc models.Location, variable, status string, res *Result, runErr error, startedAt time.Time) {
	if p.cfg.Store == nil {
		return
	}
	run := store.Run{
		LocationID: loc.ID,
		Variable:   variable,
		Status:     status,
		StartedAt:  startedAt,
	}
	if res != nil {
		run.StationsMatched = sql.NullInt64{Int64: int64(res.Match.StationsMatched), Valid: true}
		run.StationsFetched = sql.NullInt64{Int64: int64(res.Match.StationsFetched), Valid: true}
		run.NearestKm = sql.NullFloat64{Float64: res.Match.NearestKm, Valid: true}
	}
	if runErr != nil {
		run.Error = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if err := p.Store().LogRun(run); err != nil {
		log.Printf("pipeline: log run for %s: %v", loc.ID, err)
	}
}

// Store exposes the configured bookkeeping store (may be nil).
func (p *Pipeline) Store() *store.Store {
	return p.cfg.Store
}
