package openweathermap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/weather"
	"github.com/bloodlift/bloodlift/internal/weather/openweathermap"
)

func newTestClient(baseURL string) *openweathermap.Client {
	return openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:     "****",
		BaseURL:    baseURL,
		OneCallURL: baseURL + "/onecall",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("test")),
	})
}

func TestClient_GetCurrentWeather(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("lat"), "-1.944")
		assert.Contains(t, r.URL.Query().Get("lon"), "30.061")
		assert.Equal(t, "****", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))

		response := map[string]interface{}{
			"coord": map[string]float64{"lat": -1.944, "lon": 30.061},
			"weather": []map[string]interface{}{
				{"id": 501, "main": "Rain", "description": "moderate rain"},
			},
			"main":       map[string]float64{"temp": 21.5, "pressure": 1015.0, "humidity": 82.0},
			"visibility": 6000,
			"wind":       map[string]float64{"speed": 4.5, "deg": 220.0, "gust": 7.2},
			"rain":       map[string]float64{"1h": 2.4},
			"dt":         time.Now().Unix(),
			"name":       "Kigali",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	obs, err := newTestClient(server.URL).GetCurrentWeather(context.Background(), -1.944, 30.061)
	require.NoError(t, err)
	require.NotNil(t, obs)

	assert.Equal(t, -1.944, obs.Lat)
	assert.Equal(t, 30.061, obs.Lon)
	assert.Equal(t, 21.5, obs.Temperature)
	assert.Equal(t, 4.5, obs.WindSpeed)
	assert.Equal(t, 7.2, obs.WindGust)
	assert.Equal(t, 6000.0, obs.Visibility)
	assert.Equal(t, 2.4, obs.Precipitation)
	assert.Equal(t, weather.ConditionRain, obs.Condition)
	assert.Equal(t, "moderate rain", obs.Description)
}

func TestClient_GetCurrentWeather_MissingVisibilityAndSnow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := map[string]interface{}{
			"coord":   map[string]float64{"lat": 46.5, "lon": 7.9},
			"weather": []map[string]interface{}{{"main": "Snow", "description": "light snow"}},
			"main":    map[string]float64{"temp": -3.0},
			"wind":    map[string]float64{"speed": 2.0},
			"snow":    map[string]float64{"1h": 0.7},
			"dt":      time.Now().Unix(),
		}
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	obs, err := newTestClient(server.URL).GetCurrentWeather(context.Background(), 46.5, 7.9)
	require.NoError(t, err)

	assert.Equal(t, 10000.0, obs.Visibility)
	assert.Equal(t, 0.7, obs.Precipitation)
	assert.Equal(t, weather.ConditionSnow, obs.Condition)
}

func TestClient_ConditionMapping(t *testing.T) {
	cases := []struct {
		name     string
		id       int
		main     string
		expected weather.Condition
	}{
		{"thunderstorm code", 211, "Thunderstorm", weather.ConditionThunderstorm},
		{"drizzle code", 301, "Drizzle", weather.ConditionDrizzle},
		{"rain code", 502, "Rain", weather.ConditionRain},
		{"snow code", 601, "Snow", weather.ConditionSnow},
		{"mist code", 701, "Mist", weather.ConditionMist},
		{"fog code", 741, "Fog", weather.ConditionFog},
		{"dust code", 761, "Dust", weather.ConditionHaze},
		{"clear code", 800, "Clear", weather.ConditionClear},
		{"overcast code", 804, "Clouds", weather.ConditionClouds},
		{"code wins over name", 503, "Clouds", weather.ConditionRain},
		{"name without code", 0, "Fog", weather.ConditionFog},
		{"smoke name", 0, "Smoke", weather.ConditionHaze},
		{"unrecognised", 0, "Volcano", weather.ConditionUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				entry := map[string]interface{}{"main": tc.main, "description": "test"}
				if tc.id != 0 {
					entry["id"] = tc.id
				}
				json.NewEncoder(w).Encode(map[string]interface{}{
					"coord":      map[string]float64{"lat": -1.5, "lon": 29.6},
					"weather":    []map[string]interface{}{entry},
					"main":       map[string]float64{"temp": 20.0},
					"visibility": 10000,
					"wind":       map[string]float64{"speed": 3.0},
					"dt":         time.Now().Unix(),
				})
			}))
			defer server.Close()

			obs, err := newTestClient(server.URL).GetCurrentWeather(context.Background(), -1.5, 29.6)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, obs.Condition)
		})
	}
}

func TestClient_NoConditionIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"main": map[string]float64{"temp": 18.0},
			"dt":   time.Now().Unix(),
		})
	}))
	defer server.Close()

	obs, err := newTestClient(server.URL).GetCurrentWeather(context.Background(), -1.5, 29.6)
	require.NoError(t, err)
	assert.Equal(t, weather.ConditionUnknown, obs.Condition)
	assert.Empty(t, obs.Description)
}

func TestClient_GetForecast(t *testing.T) {
	now := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/onecall", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("exclude"), "minutely")
		assert.Equal(t, "-1.944000", r.URL.Query().Get("lat"))

		response := map[string]interface{}{
			"lat": -1.944,
			"lon": 30.061,
			"hourly": []map[string]interface{}{
				{
					"dt":         now.Add(time.Hour).Unix(),
					"temp":       19.0,
					"visibility": 10000,
					"wind_speed": 5.0,
					"wind_gust":  8.0,
					"pop":        0.1,
					"weather":    []map[string]interface{}{{"main": "Clouds", "description": "few clouds"}},
				},
				{
					"dt":         now.Add(2 * time.Hour).Unix(),
					"temp":       20.0,
					"visibility": 4000,
					"wind_speed": 6.0,
					"pop":        0.8,
					"rain":       map[string]float64{"1h": 3.1},
					"weather":    []map[string]interface{}{{"main": "Rain", "description": "moderate rain"}},
				},
			},
		}
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	forecast, err := newTestClient(server.URL).GetForecast(context.Background(), -1.944, 30.061)
	require.NoError(t, err)
	require.Len(t, forecast.Hourly, 2)

	h1 := forecast.Hourly[0]
	assert.Equal(t, 19.0, h1.Temperature)
	assert.Equal(t, 8.0, h1.WindGust)
	assert.Equal(t, 0.1, h1.PrecipProb)
	assert.Equal(t, weather.ConditionClouds, h1.Condition)

	h2 := forecast.Hourly[1]
	assert.Equal(t, 3.1, h2.Precipitation)
	assert.Equal(t, 4000.0, h2.Visibility)
}

func TestClient_GetCurrentWeather_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := resilience.DefaultClientConfig("test")
	noRetry := resilience.NoRetry()
	cfg.Retry = &noRetry

	client := openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:     "****",
		BaseURL:    server.URL,
		HTTPClient: resilience.NewClient(cfg),
	})

	_, err := client.GetCurrentWeather(context.Background(), -1.944, 30.061)
	var statusErr *openweathermap.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_InvalidAPIKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetForecast(context.Background(), -1.944, 30.061)
	assert.ErrorIs(t, err, openweathermap.ErrInvalidAPIKey)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetCurrentWeather(context.Background(), -1.944, 30.061)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_GetCurrentWeather_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL).GetCurrentWeather(ctx, -1.944, 30.061)
	require.Error(t, err)
}

func TestClient_Name(t *testing.T) {
	client := openweathermap.NewClient(openweathermap.ClientConfig{APIKey: "****"})
	assert.Equal(t, "openweathermap", client.Name())
}
