package store

import (
	"database/sql"
	"time"
)

// Run is one extraction outcome for a location/variable pair.
type Run struct {
	ID              int64
	LocationID      string
	Variable        string
	Status          string // "ok", "skipped", or "failed"
	StationsMatched sql.NullInt64
	StationsFetched sql.NullInt64
	NearestKm       sql.NullFloat64
	Error           sql.NullString
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (s *Store) LogRun(r Run) error {
	_, err := s.db.Exec(`
		INSERT INTO extraction_runs (location_id, variable, status, stations_matched, stations_fetched, nearest_km, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.LocationID, r.Variable, r.Status, r.StationsMatched, r.StationsFetched, r.NearestKm, r.Error, r.StartedAt)
	return err
}

// GetRuns returns the logged outcomes for one location, newest first.
func (s *Store) GetRuns(locationID string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, location_id, variable, status, stations_matched, stations_fetched, nearest_km, error, started_at, finished_at
		FROM extraction_runs
		WHERE location_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.LocationID, &r.Variable, &r.Status, &r.StationsMatched,
			&r.StationsFetched, &r.NearestKm, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
