// Package weather resolves a city name to coordinates and fetches a daily
// forecast for one date from an Open-Meteo shaped provider.
//
// The client is a pure I/O wrapper: it holds no state besides its transport
// and a circuit breaker that makes a failing provider fail fast.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unisoflta/chatbot-back/internal/apperr"
)

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com"
	DefaultForecastURL = "https://api.open-meteo.com"

	dateLayout   = "2006-01-02"
	maxBodyBytes = 1 << 20
)

// Forecast is the daily aggregate for one city and date.
type Forecast struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Date        string  `json:"date"`
	TempMax     float64 `json:"temp_max"`
	TempMin     float64 `json:"temp_min"`
	TempAvg     float64 `json:"temp_avg"`
	WeatherCode int     `json:"weather_code"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// Description returns the human-readable label of the forecast's weather code.
func (f *Forecast) Description() string { return Describe(f.WeatherCode) }

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	GeocodeURL  string
	ForecastURL string
	Language    string        // geocoding language hint, e.g. "es"
	Timeout     time.Duration // per HTTP call
	HTTPClient  *http.Client

	// Breaker tuning.
	MaxFailures  uint32
	OpenInterval time.Duration
}

// Client implements the two-step geocode + forecast lookup.
type Client struct {
	http        *http.Client
	geocodeURL  string
	forecastURL string
	language    string
	cb          *gobreaker.CircuitBreaker
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.GeocodeURL == "" {
		opts.GeocodeURL = DefaultGeocodeURL
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = DefaultForecastURL
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenInterval <= 0 {
		opts.OpenInterval = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	maxFailures := opts.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather",
		Timeout: opts.OpenInterval,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// A city that does not exist or a date without data says nothing
		// about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Client{
		http:        hc,
		geocodeURL:  strings.TrimRight(opts.GeocodeURL, "/"),
		forecastURL: strings.TrimRight(opts.ForecastURL, "/"),
		language:    opts.Language,
		cb:          cb,
	}
}

// Forecast geocodes city (first match only) and returns the daily forecast
// for isoDate (YYYY-MM-DD).
//
// Errors: apperr.NotFound when the city is unknown, apperr.NoData when the
// provider has nothing for that date, apperr.Upstream on transport, status
// or decoding failures (including an open breaker).
func (c *Client) Forecast(ctx context.Context, city, isoDate string) (*Forecast, error) {
	const op = "weather.Forecast"

	tr := otel.Tracer("weather/Client")
	ctx, span := tr.Start(ctx, "Forecast", trace.WithAttributes(
		attribute.String("weather.city", city),
		attribute.String("weather.date", isoDate),
	))
	defer span.End()

	city = strings.TrimSpace(city)
	if city == "" {
		return nil, apperr.Validation(op, "empty city")
	}
	if _, err := time.Parse(dateLayout, isoDate); err != nil {
		return nil, apperr.Validation(op, "date must be YYYY-MM-DD")
	}

	out, err := c.cb.Execute(func() (any, error) {
		place, err := c.geocode(ctx, city)
		if err != nil {
			return nil, err
		}
		return c.daily(ctx, place, isoDate)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.Wrap(apperr.KindUpstream, op, err)
		}
		return nil, err
	}
	return out.(*Forecast), nil
}

type geoResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type place struct {
	name, country string
	lat, lon      float64
}

func (c *Client) geocode(ctx context.Context, city string) (*place, error) {
	const op = "weather.geocode"

	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")
	q.Set("language", c.language)
	q.Set("format", "json")

	var body geoResponse
	if err := c.getJSON(ctx, op, c.geocodeURL+"/v1/search?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, apperr.NotFound(op, fmt.Sprintf("city %q not found", city))
	}
	r := body.Results[0]
	return &place{name: r.Name, country: r.Country, lat: r.Latitude, lon: r.Longitude}, nil
}

type forecastResponse struct {
	Daily struct {
		Time        []string   `json:"time"`
		TempMax     []*float64 `json:"temperature_2m_max"`
		TempMin     []*float64 `json:"temperature_2m_min"`
		WeatherCode []*int     `json:"weathercode"`
	} `json:"daily"`
}

func (c *Client) daily(ctx context.Context, p *place, isoDate string) (*Forecast, error) {
	const op = "weather.daily"

	q := url.Values{}
	q.Set("latitude", formatCoord(p.lat))
	q.Set("longitude", formatCoord(p.lon))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,weathercode")
	q.Set("timezone", "auto")
	q.Set("start_date", isoDate)
	q.Set("end_date", isoDate)

	var body forecastResponse
	if err := c.getJSON(ctx, op, c.forecastURL+"/v1/forecast?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	d := body.Daily
	idx := -1
	for i, t := range d.Time {
		if t == isoDate {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(d.TempMax) || idx >= len(d.TempMin) || idx >= len(d.WeatherCode) ||
		d.TempMax[idx] == nil || d.TempMin[idx] == nil || d.WeatherCode[idx] == nil {
		return nil, apperr.NoData(op, fmt.Sprintf("no forecast for %s on %s", p.name, isoDate))
	}

	tmax, tmin := *d.TempMax[idx], *d.TempMin[idx]
	return &Forecast{
		City:        p.name,
		Country:     p.country,
		Date:        isoDate,
		TempMax:     Round1(tmax),
		TempMin:     Round1(tmin),
		TempAvg:     Round1((tmax + tmin) / 2),
		WeatherCode: *d.WeatherCode[idx],
		Lat:         p.lat,
		Lon:         p.lon,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return apperr.Upstream(op, fmt.Sprintf("provider returned %d", resp.StatusCode))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apperr.Wrapf(apperr.KindUpstream, op, err, "decode response")
	}
	return nil
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

func formatCoord(v float64) string { return fmt.Sprintf("%.4f", v) }
