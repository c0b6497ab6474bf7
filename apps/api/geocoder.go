package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	yandexGeocoderURL    = "https://geocode-maps.yandex.ru/1.x/"
	mapboxGeocoderURL    = "https://api.mapbox.com/search/geocode/v6/reverse"
	nominatimGeocoderURL = "https://nominatim.openstreetmap.org/reverse"
)

var errNoGeocodeResult = errors.New("no address for coordinates")

// GeocodeResult represents an address found for coordinates
type GeocodeResult struct {
	Address string
	City    string
}

// Geocoder abstraction for address lookup
type Geocoder interface {
	Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

// YandexGeocoder implements Geocoder using the Yandex HTTP Geocoder API.
// Address is the full address line of the first match.
type YandexGeocoder struct {
	APIKey  string
	BaseURL string
	Lang    string
	Client  *http.Client
}

func (g *YandexGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if g.APIKey == "" {
		return nil, errors.New("yandex geocoder api key missing")
	}

	params := url.Values{}
	params.Set("apikey", g.APIKey)
	// Yandex expects "lng,lat"
	params.Set("geocode", fmt.Sprintf("%f,%f", lng, lat))
	params.Set("format", "json")
	params.Set("results", "1")
	params.Set("lang", valueOrDefaultString(g.Lang, "ru_RU"))

	var data struct {
		Response struct {
			GeoObjectCollection struct {
				FeatureMember []struct {
					GeoObject struct {
						Name             string `json:"name"`
						MetaDataProperty struct {
							GeocoderMetaData struct {
								Text    string `json:"text"`
								Address struct {
									Formatted  string `json:"formatted"`
									Components []struct {
										Kind string `json:"kind"`
										Name string `json:"name"`
									} `json:"Components"`
								} `json:"Address"`
							} `json:"GeocoderMetaData"`
						} `json:"metaDataProperty"`
					} `json:"GeoObject"`
				} `json:"featureMember"`
			} `json:"GeoObjectCollection"`
		} `json:"response"`
	}
	if err := getJSON(ctx, g.Client, valueOrDefaultString(g.BaseURL, yandexGeocoderURL)+"?"+params.Encode(), nil, "yandex", &data); err != nil {
		return nil, err
	}

	members := data.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return nil, nil // Not found
	}
	meta := members[0].GeoObject.MetaDataProperty.GeocoderMetaData
	address := meta.Text
	if address == "" {
		address = meta.Address.Formatted
	}
	if address == "" {
		address = members[0].GeoObject.Name
	}
	if address == "" {
		return nil, nil
	}

	city := ""
	for _, component := range meta.Address.Components {
		if component.Kind == "locality" {
			city = component.Name
		}
	}
	return &GeocodeResult{Address: address, City: city}, nil
}

// MapboxGeocoder implements Geocoder using Mapbox API v6
type MapboxGeocoder struct {
	AccessToken string
	BaseURL     string
	Client      *http.Client
}

func (g *MapboxGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if g.AccessToken == "" {
		return nil, errors.New("mapbox access token missing")
	}

	params := url.Values{}
	params.Set("longitude", fmt.Sprintf("%f", lng))
	params.Set("latitude", fmt.Sprintf("%f", lat))
	params.Set("access_token", g.AccessToken)
	params.Set("types", "address")
	params.Set("language", "ru")
	params.Set("limit", "1")

	var data struct {
		Features []struct {
			Properties struct {
				FullAddress string `json:"full_address"`
				Context     struct {
					Place struct {
						Name string `json:"name"`
					} `json:"place"`
				} `json:"context"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := getJSON(ctx, g.Client, valueOrDefaultString(g.BaseURL, mapboxGeocoderURL)+"?"+params.Encode(), nil, "mapbox", &data); err != nil {
		return nil, err
	}

	if len(data.Features) == 0 || data.Features[0].Properties.FullAddress == "" {
		return nil, nil // Not found
	}

	feat := data.Features[0]
	return &GeocodeResult{
		Address: feat.Properties.FullAddress,
		City:    feat.Properties.Context.Place.Name,
	}, nil
}

// NominatimGeocoder implements Geocoder using OSM Nominatim
// CAUTION: Requires User-Agent and has strict rate limits (1 req/sec)
type NominatimGeocoder struct {
	UserAgent string
	BaseURL   string
	Client    *http.Client
	limiter   *rate.Limiter
}

func NewNominatimGeocoder(userAgent string, client *http.Client) *NominatimGeocoder {
	return &NominatimGeocoder{
		UserAgent: userAgent,
		Client:    client,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lng))
	params.Set("addressdetails", "1")
	params.Set("accept-language", "ru")

	var data struct {
		Address struct {
			Road        string `json:"road"`
			HouseNumber string `json:"house_number"`
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
		} `json:"address"`
	}
	headers := map[string]string{"User-Agent": g.UserAgent}
	if err := getJSON(ctx, g.Client, valueOrDefaultString(g.BaseURL, nominatimGeocoderURL)+"?"+params.Encode(), headers, "nominatim", &data); err != nil {
		return nil, err
	}

	city := data.Address.City
	if city == "" {
		city = data.Address.Town
	}
	if city == "" {
		city = data.Address.Village
	}

	addr := data.Address.Road
	if data.Address.HouseNumber != "" {
		addr = fmt.Sprintf("%s, %s", addr, data.Address.HouseNumber)
	}

	if addr == "" {
		return nil, nil
	}

	return &GeocodeResult{Address: addr, City: city}, nil
}

// FallbackGeocoder asks each provider in order until one finds an address.
type FallbackGeocoder struct {
	Providers []Geocoder
}

func (g *FallbackGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	var lastErr error
	for _, provider := range g.Providers {
		res, err := provider.Geocode(ctx, lat, lng)
		if err != nil {
			lastErr = err
			continue
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, lastErr
}

func getJSON(ctx context.Context, client *http.Client, target string, headers map[string]string, provider string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s error (%d): %s", provider, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func newGeocoder(cfg *Config, client *http.Client) Geocoder {
	yandex := &YandexGeocoder{APIKey: cfg.YandexGeocoderAPIKey, Client: client}
	mapbox := &MapboxGeocoder{AccessToken: cfg.MapboxAccessToken, Client: client}
	nominatim := NewNominatimGeocoder("SafeCityMap-API/1.0", client)

	switch cfg.GeocoderProvider {
	case "yandex":
		return yandex
	case "mapbox":
		return mapbox
	case "nominatim":
		return nominatim
	}

	providers := make([]Geocoder, 0, 3)
	if cfg.YandexGeocoderAPIKey != "" {
		providers = append(providers, yandex)
	}
	if cfg.MapboxAccessToken != "" {
		providers = append(providers, mapbox)
	}
	providers = append(providers, nominatim)
	return &FallbackGeocoder{Providers: providers}
}

// reverseGeocode adapts the configured Geocoder to the debouncer and records
// the outcome. A nil result is reported as errNoGeocodeResult.
func (a *App) reverseGeocode(ctx context.Context, coords Coords) (string, error) {
	res, err := a.geocoder.Geocode(ctx, coords.Lat(), coords.Lng())
	switch {
	case err != nil:
		a.metrics.observeGeocode("error")
		a.log.Debug("reverse geocode failed", "lat", coords.Lat(), "lng", coords.Lng(), "err", err)
		return "", err
	case res == nil || res.Address == "":
		a.metrics.observeGeocode("not_found")
		return "", errNoGeocodeResult
	default:
		a.metrics.observeGeocode("ok")
		return res.Address, nil
	}
}
