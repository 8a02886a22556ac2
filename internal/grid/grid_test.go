package grid

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aqbias/internal/models"
)

const sampleGrid = `{
  "Conventions": "CF-1.4",
  "location_id": "AE001",
  "time": ["2020-06-01T00:00:00Z", "2020-06-01T03:00:00Z"],
  "variables": {
    "go3": {"units": "kg kg**-1", "data": [4e-08, 5e-08]},
    "pm2p5": {"units": "kg kg**-1", "data": [1e-08, 2e-08]},
    "t2m": {"units": "K", "data": [300, 301]},
    "msl": {"units": "Pa", "data": [101325, 101300]}
  }
}`

func writeGrid(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forecast_AE001_20200601_20200601.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write grid file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	ds, err := Load(writeGrid(t, sampleGrid))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if ds.LocationID != "AE001" {
		t.Errorf("LocationID = %q, want AE001", ds.LocationID)
	}
	if len(ds.Times) != 2 || !ds.Times[0].Equal(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Times = %v", ds.Times)
	}

	// Model field names are renamed to the observation network's.
	if _, ok := ds.Vars["go3"]; ok {
		t.Error("go3 not renamed")
	}
	if got := ds.Vars["o3"]; len(got) != 2 || got[0] != 4e-08 {
		t.Errorf("o3 = %v", got)
	}
	if got := ds.Vars["pm25"]; len(got) != 2 || got[1] != 2e-08 {
		t.Errorf("pm25 = %v", got)
	}
	if ds.Units["o3"] != "kg kg**-1" {
		t.Errorf("o3 units = %q", ds.Units["o3"])
	}
}

func TestLoadMissingMeteorology(t *testing.T) {
	content := `{
  "location_id": "AE001",
  "time": ["2020-06-01T00:00:00Z"],
  "variables": {"go3": {"data": [4e-08]}, "msl": {"data": [101325]}}
}`
	if _, err := Load(writeGrid(t, content)); err == nil {
		t.Fatal("Load accepted grid data without t2m")
	}
}

func TestLoadLengthMismatch(t *testing.T) {
	content := `{
  "location_id": "AE001",
  "time": ["2020-06-01T00:00:00Z", "2020-06-01T03:00:00Z"],
  "variables": {
    "go3": {"data": [4e-08]},
    "t2m": {"data": [300, 301]},
    "msl": {"data": [101325, 101300]}
  }
}`
	if _, err := Load(writeGrid(t, content)); err == nil {
		t.Fatal("Load accepted variable shorter than the time axis")
	}
}

func TestLoadEmptyTimeAxis(t *testing.T) {
	content := `{"location_id": "AE001", "time": [], "variables": {}}`
	if _, err := Load(writeGrid(t, content)); err == nil {
		t.Fatal("Load accepted grid data without a time axis")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestPath(t *testing.T) {
	loc := models.Location{ID: "AE001", City: "Dubai"}
	start := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)

	got := Path("grids", loc, start, end)
	want := filepath.Join("grids", "forecast_AE001_20190601_20210331.json")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}

	// Empty dir yields the bare remote name used for FTP retrieval.
	if got := Path("", loc, start, end); got != "forecast_AE001_20190601_20210331.json" {
		t.Errorf("Path with empty dir = %q", got)
	}
}
