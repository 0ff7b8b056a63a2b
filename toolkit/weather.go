package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bernardlabs/bernard/agent"
)

// DefaultForecastURL is the public Open-Meteo endpoint.
const DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

// WeatherTool fetches current conditions from an Open-Meteo compatible
// forecast API.
type WeatherTool struct {
	baseURL string
	http    *http.Client
}

// NewWeatherTool creates a weather tool. An empty baseURL uses the public
// Open-Meteo API.
func NewWeatherTool(baseURL string) *WeatherTool {
	if baseURL == "" {
		baseURL = DefaultForecastURL
	}
	return &WeatherTool{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Descriptor returns the tool definition for registration.
func (w *WeatherTool) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "get_weather",
		Description: "Get the current weather for a location given its coordinates.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"latitude":  {Type: "number", Description: "Latitude in decimal degrees.", Minimum: agent.Num(-90), Maximum: agent.Num(90)},
				"longitude": {Type: "number", Description: "Longitude in decimal degrees.", Minimum: agent.Num(-180), Maximum: agent.Num(180)},
				"location":  {Type: "string", Description: "Optional place name for the response."},
			},
			Required: []string{"latitude", "longitude"},
		},
		Execute: w.run,
	}
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

func (w *WeatherTool) run(ctx context.Context, args map[string]any) (string, error) {
	lat, _ := argNumber(args, "latitude")
	lon, _ := argNumber(args, "longitude")

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current_weather", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("forecast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("forecast API returned %d", resp.StatusCode)
	}

	var forecast forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return "", fmt.Errorf("decode forecast: %w", err)
	}

	var b strings.Builder
	if place := argString(args, "location", ""); place != "" {
		fmt.Fprintf(&b, "Weather in %s: ", place)
	} else {
		fmt.Fprintf(&b, "Weather at %.2f, %.2f: ", lat, lon)
	}
	fmt.Fprintf(&b, "%s, %.1f°C, wind %.0f km/h",
		describeWeatherCode(forecast.CurrentWeather.WeatherCode),
		forecast.CurrentWeather.Temperature,
		forecast.CurrentWeather.WindSpeed,
	)
	return b.String(), nil
}

// describeWeatherCode maps WMO weather interpretation codes to text.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	}
	return fmt.Sprintf("conditions code %d", code)
}
