package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/phuslu/log"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

type Config struct {
	BaseURL   string
	UserAgent string
	// Zero means no timeout beyond the context.
	Timeout time.Duration
}

type Address struct {
	HouseNumber string `json:"house_number"`
	Building    string `json:"building"`
	Road        string `json:"road"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Postcode    string `json:"postcode"`
}

// Number is the house number, else the building, else the road.
func (a *Address) Number() string {
	if a.HouseNumber != "" {
		return a.HouseNumber
	}
	if a.Building != "" {
		return a.Building
	}
	return a.Road
}

func (a *Address) Locality() string {
	if a.City != "" {
		return a.City
	}
	if a.Town != "" {
		return a.Town
	}
	return a.Village
}

type Result struct {
	DisplayName string   `json:"display_name"`
	Address     *Address `json:"address,omitempty"`
}

// Found reports whether the provider matched the coordinates.
func (r *Result) Found() bool {
	return r.DisplayName != ""
}

func (r *Result) AddressNumber() string {
	if r.Address == nil {
		return ""
	}
	return r.Address.Number()
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*Result, error)
}

type Client struct {
	config Config
	hc     *http.Client
	log    log.Logger
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	c := &Client{config: config}
	c.hc = &http.Client{Timeout: config.Timeout}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "geocode").Value()
	return c
}

func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	t0 := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("reverse geocode: unexpected status %s", resp.Status)
	}
	res := &Result{}
	err = json.NewDecoder(resp.Body).Decode(res)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}
	c.log.Debug().Float64("lat", lat).Float64("lng", lng).Dur("time_taken", time.Since(t0)).Bool("found", res.Found()).Msg("reverse geocode")
	return res, nil
}
