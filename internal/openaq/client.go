package openaq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"aqbias/internal/metrics"
	"aqbias/internal/models"
)

const (
	DefaultBaseURL = "https://api.openaq.org"
	defaultTimeout = 30 * time.Second

	// The public API throttles aggressively; stay well under the limit.
	requestsPerSecond = 2
	requestBurst      = 2
)

var ErrUnknownVariable = errors.New("unknown variable")

var validVariables = map[string]bool{
	"o3":   true,
	"no2":  true,
	"so2":  true,
	"pm10": true,
	"pm25": true,
}

// ValidateVariable fails fast on variable names the network does not measure.
func ValidateVariable(variable string) error {
	if !validVariables[variable] {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, variable)
	}
	return nil
}

// Cache is a read-through store for raw API responses, keyed by request URL.
// A (nil, nil) return means a miss.
type Cache interface {
	GetCachedResponse(key string) ([]byte, error)
	PutCachedResponse(key string, payload []byte) error
}

// Client talks to the station directory / measurement API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	cache   Cache

	maxRetryElapsed time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		client:          &http.Client{Timeout: defaultTimeout},
		limiter:         rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		maxRetryElapsed: 2 * time.Minute,
	}
}

// SetCache enables read-through caching of raw responses.
func (c *Client) SetCache(cache Cache) {
	c.cache = cache
}

type locationsResponse struct {
	Results []locationResult `json:"results"`
}

type locationResult struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SensorType  string `json:"sensorType"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	FirstUpdated time.Time `json:"firstUpdated"`
	LastUpdated  time.Time `json:"lastUpdated"`
	Parameters   []struct {
		Parameter string `json:"parameter"`
		Unit      string `json:"unit"`
	} `json:"parameters"`
}

// Locations queries the directory for stations measuring variable within
// radiusMeters of the given coordinates.
func (c *Client) Locations(ctx context.Context, variable string, lat, lon float64, radiusMeters int) ([]models.StationCandidate, error) {
	if err := ValidateVariable(variable); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("parameter", variable)
	q.Set("coordinates", fmt.Sprintf("%.5f,%.5f", lat, lon))
	q.Set("radius", fmt.Sprintf("%d", radiusMeters))
	q.Set("limit", "1000")
	reqURL := fmt.Sprintf("%s/v2/locations?%s", c.baseURL, q.Encode())

	body, err := c.get(ctx, "locations", reqURL)
	if err != nil {
		return nil, err
	}

	var resp locationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal locations: %w", err)
	}

	candidates := make([]models.StationCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		sc := models.StationCandidate{
			ID:         r.ID,
			Name:       r.Name,
			Latitude:   r.Coordinates.Latitude,
			Longitude:  r.Coordinates.Longitude,
			SensorType: r.SensorType,
			FirstSeen:  r.FirstUpdated.UTC(),
			LastSeen:   r.LastUpdated.UTC(),
		}
		for _, p := range r.Parameters {
			sc.Parameters = append(sc.Parameters, p.Parameter)
		}
		candidates = append(candidates, sc)
	}
	return candidates, nil
}

type measurementsResponse struct {
	Results []struct {
		Value float64 `json:"value"`
		Unit  string  `json:"unit"`
		Date  struct {
			UTC time.Time `json:"utc"`
		} `json:"date"`
	} `json:"results"`
}

// Measurements fetches the raw series for one station/variable bounded by
// [start, end]. Negative values are invalid readings and are excluded.
func (c *Client) Measurements(ctx context.Context, stationID int64, variable string, start, end time.Time) ([]models.Sample, string, error) {
	if err := ValidateVariable(variable); err != nil {
		return nil, "", err
	}

	q := url.Values{}
	q.Set("location_id", fmt.Sprintf("%d", stationID))
	q.Set("parameter", variable)
	q.Set("date_from", start.UTC().Format("2006-01-02"))
	q.Set("date_to", end.UTC().Format("2006-01-02"))
	q.Set("value_from", "0")
	q.Set("limit", "10000")
	reqURL := fmt.Sprintf("%s/v2/measurements?%s", c.baseURL, q.Encode())

	body, err := c.get(ctx, "measurements", reqURL)
	if err != nil {
		return nil, "", err
	}

	var resp measurementsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("unmarshal measurements: %w", err)
	}

	var unit string
	samples := make([]models.Sample, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Value < 0 {
			continue
		}
		if unit == "" {
			unit = r.Unit
		}
		samples = append(samples, models.Sample{Time: r.Date.UTC.UTC(), Value: r.Value})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })
	return samples, unit, nil
}

// get performs a rate-limited GET with retry on transient failures. Responses
// are served from and written to the cache when one is configured.
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	if c.cache != nil {
		cached, err := c.cache.GetCachedResponse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("cache get: %w", err)
		}
		if cached != nil {
			metrics.APICallsTotal.WithLabelValues(endpoint, "cached").Inc()
			return cached, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			metrics.APICallsTotal.WithLabelValues(endpoint, "error").Inc()
			return fmt.Errorf("%s: %w", endpoint, err)
		}
		defer resp.Body.Close()
		metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
		metrics.APICallsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.PutCachedResponse(reqURL, body); err != nil {
			return nil, fmt.Errorf("cache put: %w", err)
		}
	}
	return body, nil
}
