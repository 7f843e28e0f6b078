package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const DefaultIPLookupURL = "https://ipapi.co/json/"

// IPProvider geolocates the host's public address through an HTTP lookup
// service. Both {"latitude","longitude"} and {"lat","lon"} bodies are accepted.
type IPProvider struct {
	URL    string
	Client *http.Client
}

func NewIPProvider(url string) *IPProvider {
	if url == "" {
		url = DefaultIPLookupURL
	}
	return &IPProvider{URL: url, Client: &http.Client{Timeout: DefaultTimeout}}
}

type ipLookupResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
	Message   string   `json:"message"`
}

func (p *IPProvider) Locate(ctx context.Context) (Location, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Location{}, fmt.Errorf("read lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	var payload ipLookupResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Location{}, fmt.Errorf("decode lookup response: %w", err)
	}
	if payload.Error {
		reason := payload.Reason
		if reason == "" {
			reason = payload.Message
		}
		return Location{}, fmt.Errorf("lookup refused: %s", reason)
	}

	lat, lon := payload.Latitude, payload.Longitude
	if lat == nil || lon == nil {
		lat, lon = payload.Lat, payload.Lon
	}
	if lat == nil || lon == nil {
		return Location{}, fmt.Errorf("lookup response has no coordinates")
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return Location{}, fmt.Errorf("lookup returned out-of-range coordinates %f,%f", *lat, *lon)
	}
	return Location{Latitude: *lat, Longitude: *lon, Source: "ip"}, nil
}

var _ Provider = (*IPProvider)(nil)
