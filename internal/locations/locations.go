package locations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"aqbias/internal/models"
)

// ErrInvalidLocation covers malformed CSV records: bad coordinates, missing
// id, or a timezone name the IANA database does not know. These fail fast
// and are never retried.
var ErrInvalidLocation = errors.New("invalid location record")

// Load parses a locations CSV with header
// id,city,country,latitude,longitude,timezone[,elevation].
func Load(path string) ([]models.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locations csv: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) ([]models.Location, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"id", "city", "country", "latitude", "longitude", "timezone"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidLocation, required)
		}
	}

	var locs []models.Location
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		loc, err := parseRecord(record, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		locs = append(locs, loc)
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: csv contains no locations", ErrInvalidLocation)
	}
	return locs, nil
}

func parseRecord(record []string, col map[string]int) (models.Location, error) {
	var loc models.Location

	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	loc.ID = field("id")
	loc.City = field("city")
	loc.Country = field("country")
	loc.Timezone = field("timezone")
	if loc.ID == "" {
		return loc, fmt.Errorf("%w: empty id", ErrInvalidLocation)
	}

	lat, err := strconv.ParseFloat(field("latitude"), 64)
	if err != nil {
		return loc, fmt.Errorf("%w: latitude %q", ErrInvalidLocation, field("latitude"))
	}
	lon, err := strconv.ParseFloat(field("longitude"), 64)
	if err != nil {
		return loc, fmt.Errorf("%w: longitude %q", ErrInvalidLocation, field("longitude"))
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return loc, fmt.Errorf("%w: coordinates (%v, %v) out of range", ErrInvalidLocation, lat, lon)
	}
	loc.Latitude = lat
	loc.Longitude = lon

	// Downstream bias features need local time of day; a location without a
	// resolvable timezone is rejected up front rather than guessed.
	if loc.Timezone == "" {
		return loc, fmt.Errorf("%w: empty timezone for %s", ErrInvalidLocation, loc.ID)
	}
	if _, err := time.LoadLocation(loc.Timezone); err != nil {
		return loc, fmt.Errorf("%w: timezone %q: %v", ErrInvalidLocation, loc.Timezone, err)
	}

	if elev := field("elevation"); elev != "" {
		e, err := strconv.ParseFloat(elev, 64)
		if err != nil {
			return loc, fmt.Errorf("%w: elevation %q", ErrInvalidLocation, elev)
		}
		loc.Elevation = e
	}

	return loc, nil
}
