package openaq

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const locationsJSON = `{
  "results": [
    {
      "id": 101,
      "name": "Downtown",
      "sensorType": "reference grade",
      "coordinates": {"latitude": 25.1, "longitude": 55.2},
      "firstUpdated": "2018-03-01T00:00:00Z",
      "lastUpdated": "2021-06-01T00:00:00Z",
      "parameters": [
        {"parameter": "o3", "unit": "µg/m³"},
        {"parameter": "no2", "unit": "µg/m³"}
      ]
    },
    {
      "id": 102,
      "name": "Harbour",
      "sensorType": "low-cost sensor",
      "coordinates": {"latitude": 25.2, "longitude": 55.3},
      "firstUpdated": "2020-01-01T00:00:00Z",
      "lastUpdated": "2021-06-01T00:00:00Z",
      "parameters": [{"parameter": "pm25", "unit": "µg/m³"}]
    }
  ]
}`

const measurementsJSON = `{
  "results": [
    {"value": 22.5, "unit": "µg/m³", "date": {"utc": "2020-01-01T02:00:00Z"}},
    {"value": -999, "unit": "µg/m³", "date": {"utc": "2020-01-01T01:00:00Z"}},
    {"value": 18.0, "unit": "µg/m³", "date": {"utc": "2020-01-01T00:00:00Z"}}
  ]
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-key")
	c.maxRetryElapsed = 5 * time.Second
	return c
}

func TestValidateVariable(t *testing.T) {
	for _, v := range []string{"o3", "no2", "so2", "pm10", "pm25"} {
		if err := ValidateVariable(v); err != nil {
			t.Errorf("ValidateVariable(%q) = %v", v, err)
		}
	}
	if err := ValidateVariable("co2"); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("ValidateVariable(co2) = %v, want ErrUnknownVariable", err)
	}
}

func TestLocations(t *testing.T) {
	var gotPath, gotKey string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(locationsJSON))
	}))

	candidates, err := c.Locations(context.Background(), "o3", 25.0657, 55.17128, 100_000)
	if err != nil {
		t.Fatalf("Locations: %v", err)
	}
	if gotPath != "/v2/locations" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}

	first := candidates[0]
	if first.ID != 101 || first.Name != "Downtown" {
		t.Errorf("identity = %d %q", first.ID, first.Name)
	}
	if first.SensorType != "reference grade" {
		t.Errorf("SensorType = %q", first.SensorType)
	}
	if first.Latitude != 25.1 || first.Longitude != 55.2 {
		t.Errorf("coordinates = (%v, %v)", first.Latitude, first.Longitude)
	}
	if first.FirstSeen != time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("FirstSeen = %v", first.FirstSeen)
	}
	if len(first.Parameters) != 2 || first.Parameters[0] != "o3" {
		t.Errorf("Parameters = %v", first.Parameters)
	}
}

func TestLocationsUnknownVariable(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.Locations(context.Background(), "co2", 25, 55, 1000)
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("err = %v, want ErrUnknownVariable", err)
	}
}

func TestMeasurements(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("value_from"); got != "0" {
			t.Errorf("value_from = %q, want 0", got)
		}
		w.Write([]byte(measurementsJSON))
	}))

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	samples, unit, err := c.Measurements(context.Background(), 101, "o3", start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("Measurements: %v", err)
	}
	if unit != "µg/m³" {
		t.Errorf("unit = %q", unit)
	}
	// The negative reading is dropped, the rest sorted ascending by time.
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if !samples[0].Time.Before(samples[1].Time) {
		t.Errorf("samples not sorted: %v", samples)
	}
	if samples[0].Value != 18.0 || samples[1].Value != 22.5 {
		t.Errorf("values = %v, %v", samples[0].Value, samples[1].Value)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(measurementsJSON))
	}))

	_, _, err := c.Measurements(context.Background(), 101, "o3", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Measurements: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry after 429)", calls.Load())
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, _, err := c.Measurements(context.Background(), 101, "o3", time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("Measurements succeeded on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx is permanent)", calls.Load())
	}
}

type mapCache struct {
	entries map[string][]byte
	puts    int
}

func (m *mapCache) GetCachedResponse(key string) ([]byte, error) {
	return m.entries[key], nil
}

func (m *mapCache) PutCachedResponse(key string, payload []byte) error {
	m.entries[key] = payload
	m.puts++
	return nil
}

func TestGetUsesCache(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(measurementsJSON))
	}))
	cache := &mapCache{entries: make(map[string][]byte)}
	c.SetCache(cache)

	for i := 0; i < 2; i++ {
		if _, _, err := c.Measurements(context.Background(), 101, "o3", time.Time{}, time.Time{}); err != nil {
			t.Fatalf("Measurements #%d: %v", i+1, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (second served from cache)", calls.Load())
	}
	if cache.puts != 1 {
		t.Errorf("cache puts = %d, want 1", cache.puts)
	}
}
