package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"aqbias/internal/models"
)

func testLocation() models.Location {
	return models.Location{
		ID:        "AE001",
		City:      "Dubai",
		Country:   "AE",
		Latitude:  25.0657,
		Longitude: 55.17128,
		Timezone:  "Asia/Dubai",
	}
}

func testSeries() []models.ObservationSeries {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.ObservationSeries{
		{
			StationID: 101, StationLat: 25.1, StationLon: 55.2,
			LocationLat: 25.0657, LocationLon: 55.17128,
			DistanceKm: 4.93, Variable: "o3", Unit: "µg/m³",
			Samples: []models.Sample{
				{Time: base, Value: 10},
				{Time: base.Add(time.Hour), Value: 12},
			},
		},
		{
			StationID: 102, StationLat: 25.2, StationLon: 55.3,
			LocationLat: 25.0657, LocationLon: 55.17128,
			DistanceKm: 19.42, Variable: "o3", Unit: "µg/m³",
			Samples: []models.Sample{
				{Time: base.Add(time.Hour), Value: 14},
				{Time: base.Add(2 * time.Hour), Value: 16},
			},
		},
	}
}

func TestNewObservationDataset(t *testing.T) {
	loc := testLocation()
	ds := NewObservationDataset(loc, "o3", testSeries())

	if ds.Conventions != "CF-1.4" || ds.FeatureType != "timeSeries" {
		t.Errorf("conventions = %q/%q", ds.Conventions, ds.FeatureType)
	}
	// Union of both station grids: hours 0, 1, 2.
	if len(ds.Time) != 3 {
		t.Fatalf("len(Time) = %d, want 3", len(ds.Time))
	}
	if !reflect.DeepEqual(ds.StationID.Data, []int64{101, 102}) {
		t.Errorf("StationID.Data = %v", ds.StationID.Data)
	}
	if ds.StationID.CFRole != "timeseries_id" {
		t.Errorf("station cf_role = %q", ds.StationID.CFRole)
	}
	if !reflect.DeepEqual(ds.Distance.Data, []float64{4.93, 19.42}) {
		t.Errorf("Distance.Data = %v", ds.Distance.Data)
	}
	if ds.Distance.Units != "km" {
		t.Errorf("distance units = %q", ds.Distance.Units)
	}
	if ds.X.Units != "degrees_east" || ds.Y.Units != "degrees_north" {
		t.Errorf("coordinate units = %q/%q", ds.X.Units, ds.Y.Units)
	}
	if ds.LocationX.Data != loc.Longitude || ds.LocationY.Data != loc.Latitude {
		t.Errorf("location coords = (%v, %v)", ds.LocationY.Data, ds.LocationX.Data)
	}

	v := ds.Variables["o3"]
	if v.Units != "µg/m³" || v.LongName != "Ozone" {
		t.Errorf("o3 attrs = %+v", v.attrs)
	}
	if len(v.Data) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(v.Data))
	}
	// Station 101 never reported at hour 2, station 102 never at hour 0.
	if v.Data[0][2] != nil {
		t.Error("station 101 hour 2 should be missing")
	}
	if v.Data[1][0] != nil {
		t.Error("station 102 hour 0 should be missing")
	}
	if v.Data[0][1] == nil || *v.Data[0][1] != 12 {
		t.Errorf("station 101 hour 1 = %v, want 12", v.Data[0][1])
	}
}

func TestObservationRoundTrip(t *testing.T) {
	loc := testLocation()
	in := testSeries()
	path := filepath.Join(t.TempDir(), "o3_dubai_ae001.json")

	if err := WriteFile(path, NewObservationDataset(loc, "o3", in)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ds, err := ReadObservations(path)
	if err != nil {
		t.Fatalf("ReadObservations: %v", err)
	}
	out, err := ds.Series()
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.json")
	if err := WriteFile(path, NewObservationDataset(testLocation(), "o3", testSeries())); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".artifact-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !json.Valid(raw) {
		t.Error("artifact is not valid JSON")
	}
}

func TestNewMergedDataset(t *testing.T) {
	records := []models.MergedRecord{
		{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Forecast: 55, Observed: 40, Bias: 15, LocalTimeHour: 4},
		{Time: time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC), Forecast: 60, Observed: 70, Bias: -10, LocalTimeHour: 7},
	}
	ds := NewMergedDataset(testLocation(), "no2", 4.93, records)

	if ds.Distance.Data != 4.93 {
		t.Errorf("Distance = %v, want nearest station distance 4.93", ds.Distance.Data)
	}
	if got := ds.Variables["no2_bias"].Data; !reflect.DeepEqual(got, []float64{15, -10}) {
		t.Errorf("bias column = %v", got)
	}
	if got := ds.Variables["no2_forecast"].Units; got != "micrograms m**-3" {
		t.Errorf("forecast units = %q", got)
	}
	if got := ds.Variables["local_time_hour"].Data; !reflect.DeepEqual(got, []float64{4, 7}) {
		t.Errorf("local_time_hour = %v", got)
	}

	fused := ds.Fused()
	if fused.Variable != "no2" || len(fused.Values) != 2 {
		t.Fatalf("Fused = %+v", fused)
	}
	if !fused.Values[1].Valid || fused.Values[1].Float64 != 70 {
		t.Errorf("Fused.Values[1] = %+v, want 70", fused.Values[1])
	}
}

func TestPaths(t *testing.T) {
	loc := testLocation()
	loc.City = "New Delhi"
	loc.ID = "IN001"
	start := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)

	obs := ObservationsPath("out", loc, "pm25", start, end)
	want := filepath.Join("out", "new-delhi", "in001", "pm25_new-delhi_in001_20190601_20210331.json")
	if obs != want {
		t.Errorf("ObservationsPath = %q, want %q", obs, want)
	}

	merged := MergedPath("out", loc, "pm25", start, end)
	want = filepath.Join("out", "new-delhi", "in001", "pm25_new-delhi_in001_20190601_20210331_training.json")
	if merged != want {
		t.Errorf("MergedPath = %q, want %q", merged, want)
	}
}
