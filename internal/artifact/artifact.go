package artifact

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"aqbias/internal/models"
)

// Artifacts are self-describing JSON datasets with CF-convention-style
// attributes (units, long names, standard names) on every variable, so
// downstream tooling can consume them without out-of-band metadata.

var longNames = map[string]string{
	"o3":   "Ozone",
	"no2":  "Nitrogen dioxide",
	"so2":  "Sulphur dioxide",
	"pm25": "Particulate matter (PM2.5)",
	"pm10": "Particulate matter (PM10)",
}

// LongName returns the CF long_name for a variable.
func LongName(variable string) string {
	if n, ok := longNames[variable]; ok {
		return n
	}
	return variable
}

type attrs struct {
	Units        string `json:"units,omitempty"`
	LongName     string `json:"long_name,omitempty"`
	StandardName string `json:"standard_name,omitempty"`
	CFRole       string `json:"cf_role,omitempty"`
}

type floatCoord struct {
	attrs
	Data []float64 `json:"data"`
}

type scalarCoord struct {
	attrs
	Data float64 `json:"data"`
}

type idCoord struct {
	attrs
	Data []int64 `json:"data"`
}

// seriesVar is a [station][time] data variable; nil marks a missing value.
type seriesVar struct {
	attrs
	Dims []string     `json:"dims"`
	Data [][]*float64 `json:"data"`
}

// columnVar is a [time] data variable of the merged training table.
type columnVar struct {
	attrs
	Dims []string  `json:"dims"`
	Data []float64 `json:"data"`
}

// ObservationDataset stacks the fetched per-station series for one
// location/variable on a common time grid, pre-fusion.
type ObservationDataset struct {
	Conventions string                `json:"Conventions"`
	FeatureType string                `json:"featureType"`
	Variable    string                `json:"variable"`
	Time        []time.Time           `json:"time"`
	StationID   idCoord               `json:"station_id"`
	X           floatCoord            `json:"x"`
	Y           floatCoord            `json:"y"`
	Distance    floatCoord            `json:"distance"`
	LocationX   scalarCoord           `json:"_x"`
	LocationY   scalarCoord           `json:"_y"`
	Variables   map[string]seriesVar  `json:"variables"`
}

// NewObservationDataset aligns the series on the union of their time grids.
func NewObservationDataset(loc models.Location, variable string, series []models.ObservationSeries) *ObservationDataset {
	gridSet := make(map[int64]struct{})
	for _, s := range series {
		for _, sample := range s.Samples {
			gridSet[sample.Time.UTC().UnixNano()] = struct{}{}
		}
	}
	keys := make([]int64, 0, len(gridSet))
	for k := range gridSet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	index := make(map[int64]int, len(keys))
	times := make([]time.Time, len(keys))
	for i, k := range keys {
		index[k] = i
		times[i] = time.Unix(0, k).UTC()
	}

	ds := &ObservationDataset{
		Conventions: "CF-1.4",
		FeatureType: "timeSeries",
		Variable:    variable,
		Time:        times,
		StationID: idCoord{
			attrs: attrs{LongName: "station name", CFRole: "timeseries_id"},
		},
		X: floatCoord{
			attrs: attrs{Units: "degrees_east", LongName: "Longitude", StandardName: "longitude"},
		},
		Y: floatCoord{
			attrs: attrs{Units: "degrees_north", LongName: "Latitude", StandardName: "latitude"},
		},
		Distance: floatCoord{
			attrs: attrs{Units: "km", LongName: "Distance", StandardName: "distance"},
		},
		LocationX: scalarCoord{
			attrs: attrs{Units: "degrees_east", LongName: "Longitude of the location of interest", StandardName: "longitude_interest"},
			Data:  loc.Longitude,
		},
		LocationY: scalarCoord{
			attrs: attrs{Units: "degrees_north", LongName: "Latitude of the location of interest", StandardName: "latitude_interest"},
			Data:  loc.Latitude,
		},
		Variables: make(map[string]seriesVar, 1),
	}

	var unit string
	data := make([][]*float64, len(series))
	for si, s := range series {
		ds.StationID.Data = append(ds.StationID.Data, s.StationID)
		ds.X.Data = append(ds.X.Data, s.StationLon)
		ds.Y.Data = append(ds.Y.Data, s.StationLat)
		ds.Distance.Data = append(ds.Distance.Data, s.DistanceKm)
		if unit == "" {
			unit = s.Unit
		}

		row := make([]*float64, len(keys))
		for _, sample := range s.Samples {
			v := sample.Value
			row[index[sample.Time.UTC().UnixNano()]] = &v
		}
		data[si] = row
	}

	ds.Variables[variable] = seriesVar{
		attrs: attrs{Units: unit, LongName: LongName(variable), StandardName: variable},
		Dims:  []string{"station_id", "time"},
		Data:  data,
	}
	return ds
}

// Series reconstructs the per-station observation series, dropping missing
// values, for re-running fusion from a stored artifact.
func (ds *ObservationDataset) Series() ([]models.ObservationSeries, error) {
	v, ok := ds.Variables[ds.Variable]
	if !ok {
		return nil, fmt.Errorf("artifact has no data variable %s", ds.Variable)
	}
	if len(v.Data) != len(ds.StationID.Data) {
		return nil, fmt.Errorf("artifact has %d station rows for %d stations", len(v.Data), len(ds.StationID.Data))
	}

	series := make([]models.ObservationSeries, 0, len(v.Data))
	for si, row := range v.Data {
		if len(row) != len(ds.Time) {
			return nil, fmt.Errorf("station row %d has %d values for %d timestamps", si, len(row), len(ds.Time))
		}
		s := models.ObservationSeries{
			StationID:   ds.StationID.Data[si],
			StationLat:  ds.Y.Data[si],
			StationLon:  ds.X.Data[si],
			LocationLat: ds.LocationY.Data,
			LocationLon: ds.LocationX.Data,
			DistanceKm:  ds.Distance.Data[si],
			Variable:    ds.Variable,
			Unit:        v.Units,
		}
		for ti, val := range row {
			if val == nil {
				continue
			}
			s.Samples = append(s.Samples, models.Sample{Time: ds.Time[ti].UTC(), Value: *val})
		}
		series = append(series, s)
	}
	return series, nil
}

// MergedDataset is the per-location training table artifact.
type MergedDataset struct {
	Conventions string               `json:"Conventions"`
	FeatureType string               `json:"featureType"`
	Variable    string               `json:"variable"`
	Time        []time.Time          `json:"time"`
	LocationX   scalarCoord          `json:"_x"`
	LocationY   scalarCoord          `json:"_y"`
	Distance    scalarCoord          `json:"distance"`
	Variables   map[string]columnVar `json:"variables"`
}

// NewMergedDataset builds the training table artifact from merged records.
func NewMergedDataset(loc models.Location, variable string, nearestKm float64, records []models.MergedRecord) *MergedDataset {
	ds := &MergedDataset{
		Conventions: "CF-1.4",
		FeatureType: "timeSeries",
		Variable:    variable,
		LocationX: scalarCoord{
			attrs: attrs{Units: "degrees_east", LongName: "Longitude of the location of interest", StandardName: "longitude_interest"},
			Data:  loc.Longitude,
		},
		LocationY: scalarCoord{
			attrs: attrs{Units: "degrees_north", LongName: "Latitude of the location of interest", StandardName: "latitude_interest"},
			Data:  loc.Latitude,
		},
		Distance: scalarCoord{
			attrs: attrs{Units: "km", LongName: "Distance to the nearest station", StandardName: "distance"},
			Data:  nearestKm,
		},
		Variables: make(map[string]columnVar, 4),
	}

	forecast := make([]float64, len(records))
	observed := make([]float64, len(records))
	bias := make([]float64, len(records))
	localHour := make([]float64, len(records))
	for i, r := range records {
		ds.Time = append(ds.Time, r.Time)
		forecast[i] = r.Forecast
		observed[i] = r.Observed
		bias[i] = r.Bias
		localHour[i] = float64(r.LocalTimeHour)
	}

	long := LongName(variable)
	dims := []string{"time"}
	ds.Variables[variable+"_forecast"] = columnVar{
		attrs: attrs{Units: "micrograms m**-3", LongName: long + " (forecast)"},
		Dims:  dims, Data: forecast,
	}
	ds.Variables[variable+"_observed"] = columnVar{
		attrs: attrs{Units: "micrograms m**-3", LongName: long + " (observed)"},
		Dims:  dims, Data: observed,
	}
	ds.Variables[variable+"_bias"] = columnVar{
		attrs: attrs{Units: "micrograms m**-3", LongName: long + " forecast bias"},
		Dims:  dims, Data: bias,
	}
	ds.Variables["local_time_hour"] = columnVar{
		attrs: attrs{Units: "hours", LongName: "Hour of day at the location's timezone"},
		Dims:  dims, Data: localHour,
	}
	return ds
}

// Fused returns the observation columns of a stored merged artifact as a
// fused series (all values present by construction).
func (ds *MergedDataset) Fused() models.FusedObservation {
	fused := models.FusedObservation{Variable: ds.Variable}
	observed := ds.Variables[ds.Variable+"_observed"]
	for i, t := range ds.Time {
		fused.Times = append(fused.Times, t.UTC())
		fused.Values = append(fused.Values, sql.NullFloat64{Float64: observed.Data[i], Valid: true})
	}
	return fused
}

// ObservationsPath mirrors the upstream naming scheme:
// <out>/<city>/<id>/<var>_<city>_<id>_<range>.json
func ObservationsPath(dir string, loc models.Location, variable string, start, end time.Time) string {
	city := slug(loc.City)
	id := strings.ToLower(loc.ID)
	return filepath.Join(dir, city, id,
		fmt.Sprintf("%s_%s_%s_%s.json", variable, city, id, rangeTag(start, end)))
}

// MergedPath is the training-table artifact location.
func MergedPath(dir string, loc models.Location, variable string, start, end time.Time) string {
	city := slug(loc.City)
	id := strings.ToLower(loc.ID)
	return filepath.Join(dir, city, id,
		fmt.Sprintf("%s_%s_%s_%s_training.json", variable, city, id, rangeTag(start, end)))
}

func rangeTag(start, end time.Time) string {
	return start.Format("20060102") + "_" + end.Format("20060102")
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// WriteFile marshals the dataset through a temp file and a rename, so a
// partial or corrupt artifact is never left in place.
func WriteFile(path string, ds any) error {
	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// ReadObservations loads a stored observation artifact.
func ReadObservations(path string) (*ObservationDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var ds ObservationDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("unmarshal artifact %s: %w", path, err)
	}
	return &ds, nil
}
