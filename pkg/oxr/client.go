// Package oxr fetches USD-based exchange rates from Open Exchange Rates.
package oxr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/resilience"
)

const defaultBaseURL = "https://openexchangerates.org/api"

// Client fetches the latest rates.
type Client interface {
	Latest(ctx context.Context) (*Rates, error)
}

// Rates maps currency codes to units per one USD.
type Rates struct {
	Base      string             `json:"base"`
	Timestamp time.Time          `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	appID   string
	baseURL string
	http    *http.Client
}

// NewClient creates an Open Exchange Rates client.
func NewClient(appID string, opts ...Option) Client {
	c := &httpClient{
		appID:   appID,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type latestResponse struct {
	Error       bool               `json:"error"`
	Description string             `json:"description"`
	Timestamp   int64              `json:"timestamp"`
	Base        string             `json:"base"`
	Rates       map[string]float64 `json:"rates"`
}

func (c *httpClient) Latest(ctx context.Context) (*Rates, error) {
	if c.appID == "" {
		return nil, eris.New("oxr: app id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/latest.json?app_id="+url.QueryEscape(c.appID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "oxr: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "oxr: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "oxr: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("oxr", resp.StatusCode, string(body))
	}

	var lr latestResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, eris.Wrap(err, "oxr: unmarshal response")
	}
	if lr.Error {
		return nil, eris.Errorf("oxr: %s", lr.Description)
	}
	if len(lr.Rates) == 0 {
		return nil, eris.New("oxr: response has no rates")
	}
	if lr.Base == "" {
		lr.Base = "USD"
	}
	if _, ok := lr.Rates["USD"]; !ok {
		lr.Rates["USD"] = 1
	}
	return &Rates{Base: lr.Base, Timestamp: time.Unix(lr.Timestamp, 0).UTC(), Rates: lr.Rates}, nil
}
