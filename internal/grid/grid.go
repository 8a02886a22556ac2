package grid

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aqbias/internal/models"
)

// Forecast grid files are self-describing JSON datasets, one per
// location/time-range, extracted from the forecast model's native gridded
// output at the grid cell colocated with the location. Concentration fields
// carry the model's native names and units (kg/kg); t2m is Kelvin, msl is
// Pascal.

// CAMS-style field names mapped to the observation network's variable names.
var renames = map[string]string{
	"go3":   "o3",
	"pm2p5": "pm25",
}

type fileVariable struct {
	Units        string    `json:"units,omitempty"`
	LongName     string    `json:"long_name,omitempty"`
	StandardName string    `json:"standard_name,omitempty"`
	Data         []float64 `json:"data"`
}

type file struct {
	Conventions string                  `json:"Conventions"`
	LocationID  string                  `json:"location_id"`
	Times       []time.Time             `json:"time"`
	Variables   map[string]fileVariable `json:"variables"`
}

// Dataset is a loaded forecast grid series for one location.
type Dataset struct {
	LocationID string
	Times      []time.Time
	Vars       map[string][]float64
	Units      map[string]string
}

// Load reads and validates a grid file, renaming model fields to the
// observation network's variable names.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grid file: %w", err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal grid file %s: %w", path, err)
	}
	if len(f.Times) == 0 {
		return nil, fmt.Errorf("grid file %s has no time axis", path)
	}

	ds := &Dataset{
		LocationID: f.LocationID,
		Times:      make([]time.Time, len(f.Times)),
		Vars:       make(map[string][]float64, len(f.Variables)),
		Units:      make(map[string]string, len(f.Variables)),
	}
	for i, t := range f.Times {
		ds.Times[i] = t.UTC()
	}
	for name, v := range f.Variables {
		if renamed, ok := renames[name]; ok {
			name = renamed
		}
		if len(v.Data) != len(f.Times) {
			return nil, fmt.Errorf("grid file %s: variable %s has %d values for %d timestamps",
				path, name, len(v.Data), len(f.Times))
		}
		ds.Vars[name] = v.Data
		ds.Units[name] = v.Units
	}

	for _, required := range []string{"t2m", "msl"} {
		if _, ok := ds.Vars[required]; !ok {
			return nil, fmt.Errorf("grid file %s missing required variable %s", path, required)
		}
	}
	return ds, nil
}

// Path is the on-disk naming scheme for grid files, mirroring the
// observation artifact layout.
func Path(dir string, loc models.Location, start, end time.Time) string {
	rangeTag := start.Format("20060102") + "_" + end.Format("20060102")
	return filepath.Join(dir, fmt.Sprintf("forecast_%s_%s.json", loc.ID, rangeTag))
}
