package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unisoflta/chatbot-back/internal/apperr"
)

// fakeProvider serves both geocoding and forecast endpoints.
type fakeProvider struct {
	geo      string
	forecast string
	status   int
	calls    atomic.Int32
	lastQ    atomic.Value // forecast query string
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/search":
		_, _ = w.Write([]byte(f.geo))
	case "/v1/forecast":
		f.lastQ.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(f.forecast))
	default:
		http.NotFound(w, r)
	}
}

const madridGeo = `{"results":[{"name":"Madrid","country":"Spain","latitude":40.4168,"longitude":-3.7038},
{"name":"Madrid","country":"United States","latitude":41.87,"longitude":-93.82}]}`

func newTestClient(t *testing.T, fp *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)
	return New(Options{GeocodeURL: srv.URL, ForecastURL: srv.URL, Language: "es", Timeout: 2 * time.Second})
}

func TestForecast_OK(t *testing.T) {
	fp := &fakeProvider{
		geo:      madridGeo,
		forecast: `{"daily":{"time":["2025-03-10"],"temperature_2m_max":[18.26],"temperature_2m_min":[7.1],"weathercode":[3]}}`,
	}
	c := newTestClient(t, fp)

	f, err := c.Forecast(context.Background(), "Madrid", "2025-03-10")
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if f.City != "Madrid" || f.Country != "Spain" || f.Lat != 40.4168 {
		t.Fatalf("unexpected place: %+v", f)
	}
	if f.TempMax != 18.3 || f.TempMin != 7.1 || f.TempAvg != 12.7 {
		t.Fatalf("unexpected temps: max=%v min=%v avg=%v", f.TempMax, f.TempMin, f.TempAvg)
	}
	if f.Description() != "overcast" {
		t.Fatalf("description = %q", f.Description())
	}
	q, _ := fp.lastQ.Load().(string)
	if !strings.Contains(q, "start_date=2025-03-10") || !strings.Contains(q, "end_date=2025-03-10") {
		t.Fatalf("forecast query should pin one date: %s", q)
	}
}

func TestForecast_Errors(t *testing.T) {
	tests := []struct {
		name string
		fp   *fakeProvider
		want error
	}{
		{"unknown city", &fakeProvider{geo: `{"results":[]}`}, apperr.ErrNotFound},
		{"no results key", &fakeProvider{geo: `{}`}, apperr.ErrNotFound},
		{"missing day", &fakeProvider{geo: madridGeo, forecast: `{"daily":{"time":[],"temperature_2m_max":[],"temperature_2m_min":[],"weathercode":[]}}`}, apperr.ErrNoData},
		{"null values", &fakeProvider{geo: madridGeo, forecast: `{"daily":{"time":["2025-03-10"],"temperature_2m_max":[null],"temperature_2m_min":[5],"weathercode":[1]}}`}, apperr.ErrNoData},
		{"http 500", &fakeProvider{status: http.StatusInternalServerError}, apperr.ErrUpstream},
		{"bad json", &fakeProvider{geo: `{not json`}, apperr.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.fp)
			_, err := c.Forecast(context.Background(), "Madrid", "2025-03-10")
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestForecast_RejectsBadInput(t *testing.T) {
	c := newTestClient(t, &fakeProvider{})
	if _, err := c.Forecast(context.Background(), " ", "2025-03-10"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty city: %v", err)
	}
	if _, err := c.Forecast(context.Background(), "Madrid", "tomorrow"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad date: %v", err)
	}
}

func TestForecast_BreakerOpensOnUpstreamFailures(t *testing.T) {
	fp := &fakeProvider{status: http.StatusBadGateway}
	srv := httptest.NewServer(fp)
	defer srv.Close()
	c := New(Options{GeocodeURL: srv.URL, ForecastURL: srv.URL, MaxFailures: 2, OpenInterval: time.Minute})

	for i := 0; i < 2; i++ {
		_, _ = c.Forecast(context.Background(), "Madrid", "2025-03-10")
	}
	before := fp.calls.Load()
	_, err := c.Forecast(context.Background(), "Madrid", "2025-03-10")
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("want upstream error from open breaker, got %v", err)
	}
	if fp.calls.Load() != before {
		t.Fatalf("open breaker should not reach the provider")
	}
}

func TestForecast_NotFoundDoesNotTripBreaker(t *testing.T) {
	fp := &fakeProvider{geo: `{"results":[]}`}
	srv := httptest.NewServer(fp)
	defer srv.Close()
	c := New(Options{GeocodeURL: srv.URL, ForecastURL: srv.URL, MaxFailures: 1})

	for i := 0; i < 3; i++ {
		if _, err := c.Forecast(context.Background(), "Atlantis", "2025-03-10"); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("call %d: want not found, got %v", i, err)
		}
	}
	if fp.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", fp.calls.Load())
	}
}

func TestDescribe(t *testing.T) {
	if Describe(0) != "clear sky" || Describe(95) != "thunderstorm" {
		t.Fatal("known codes")
	}
	if Describe(42) != UnknownCondition {
		t.Fatal("unknown code")
	}
}

func TestRound1(t *testing.T) {
	for in, want := range map[float64]float64{12.66: 12.7, -0.04: 0, 3.0: 3.0, 18.26: 18.3} {
		if got := Round1(in); got != want {
			t.Errorf("Round1(%v) = %v, want %v", in, got, want)
		}
	}
}
