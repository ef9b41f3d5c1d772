// Package serpapi is a client for the SerpAPI Google Shopping and Immersive
// Product engines.
//
// Shopping is the bulk feed. Immersive Product is billed per call and only
// used to resolve a merchant URL for a single offer.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/skuboard/internal/resilience"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs SerpAPI operations.
type Client interface {
	Shopping(ctx context.Context, req ShoppingRequest) ([]ShoppingResult, error)
	Immersive(ctx context.Context, req ImmersiveRequest) (*ImmersiveResult, error)
}

// ShoppingRequest is a google_shopping search. GL and HL localize the
// result set to a market.
type ShoppingRequest struct {
	Query    string
	GL       string
	HL       string
	Location string
}

// ShoppingResult is one usable shopping result. Results without a product
// id or a positive price are dropped by the client.
type ShoppingResult struct {
	ProductID      string  `json:"product_id"`
	Title          string  `json:"title"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency,omitempty"`
	Merchant       string  `json:"merchant"`
	Link           string  `json:"link"`
	ImmersiveToken string  `json:"immersive_token,omitempty"`
	Condition      string  `json:"condition,omitempty"`
	Delivery       string  `json:"delivery,omitempty"`
	Thumbnail      string  `json:"thumbnail,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
	Reviews        int     `json:"reviews,omitempty"`
}

// ImmersiveRequest identifies a product for google_immersive_product. A page
// token is preferred; the product id is the fallback.
type ImmersiveRequest struct {
	PageToken string
	ProductID string
}

// ImmersiveResult carries the first direct merchant link found.
type ImmersiveResult struct {
	MerchantURL string  `json:"merchant_url"`
	Merchant    string  `json:"merchant,omitempty"`
	TotalPrice  float64 `json:"total_price,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a SerpAPI client limited to 5 requests per second.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type shoppingItem struct {
	ProductID           string      `json:"product_id"`
	Title               string      `json:"title"`
	Price               string      `json:"price"`
	ExtractedPrice      json.Number `json:"extracted_price"`
	Currency            string      `json:"currency"`
	Source              string      `json:"source"`
	ProductLink         string      `json:"product_link"`
	Link                string      `json:"link"`
	ImmersivePageToken  string      `json:"immersive_product_page_token"`
	ImmersiveAPI        string      `json:"serpapi_immersive_product_api"`
	ProductAPI          string      `json:"serpapi_product_api"`
	SecondHandCondition string      `json:"second_hand_condition"`
	Delivery            string      `json:"delivery"`
	Thumbnail           string      `json:"thumbnail"`
	Rating              float64     `json:"rating"`
	Reviews             int         `json:"reviews"`
	Extensions          []string    `json:"extensions"`
}

type shoppingResponse struct {
	Error           string         `json:"error"`
	ShoppingResults []shoppingItem `json:"shopping_results"`
}

func (c *httpClient) Shopping(ctx context.Context, in ShoppingRequest) ([]ShoppingResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, eris.New("serpapi: empty query")
	}
	params := url.Values{}
	params.Set("engine", "google_shopping")
	params.Set("q", in.Query)
	if in.GL != "" {
		params.Set("gl", in.GL)
	}
	if in.HL != "" {
		params.Set("hl", in.HL)
	}
	if in.Location != "" {
		params.Set("location", in.Location)
	}

	var resp shoppingResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" && !strings.Contains(strings.ToLower(resp.Error), "hasn't returned any results") {
		return nil, eris.Errorf("serpapi: shopping: %s", resp.Error)
	}

	out := make([]ShoppingResult, 0, len(resp.ShoppingResults))
	for _, it := range resp.ShoppingResults {
		price := numberPrice(it.ExtractedPrice)
		if price == 0 {
			price = ParsePrice(it.Price)
		}
		if it.ProductID == "" || price <= 0 {
			continue
		}
		link := it.ProductLink
		if link == "" {
			link = it.Link
		}
		token := it.ImmersivePageToken
		if token == "" {
			token = pageToken(it.ImmersiveAPI)
		}
		if token == "" {
			token = pageToken(it.ProductAPI)
		}
		delivery := it.Delivery
		if delivery == "" {
			delivery = strings.Join(it.Extensions, " ")
		}
		out = append(out, ShoppingResult{
			ProductID:      it.ProductID,
			Title:          strings.TrimSpace(it.Title),
			Price:          price,
			Currency:       strings.ToUpper(it.Currency),
			Merchant:       strings.TrimSpace(it.Source),
			Link:           link,
			ImmersiveToken: token,
			Condition:      it.SecondHandCondition,
			Delivery:       delivery,
			Thumbnail:      it.Thumbnail,
			Rating:         it.Rating,
			Reviews:        it.Reviews,
		})
	}
	return out, nil
}

type seller struct {
	Name           string      `json:"name"`
	Link           string      `json:"link"`
	DirectLink     string      `json:"direct_link"`
	TotalPrice     string      `json:"total_price"`
	ExtractedTotal json.Number `json:"extracted_total_price"`
	ExtractedPrice json.Number `json:"extracted_price"`
}

type immersiveResponse struct {
	Error          string `json:"error"`
	ProductResults struct {
		Stores []seller `json:"stores"`
	} `json:"product_results"`
	SellersResults struct {
		OnlineSellers []seller `json:"online_sellers"`
	} `json:"sellers_results"`
}

// Immersive resolves a direct merchant link. A response without any
// http(s) seller link yields (nil, nil).
func (c *httpClient) Immersive(ctx context.Context, in ImmersiveRequest) (*ImmersiveResult, error) {
	params := url.Values{}
	params.Set("engine", "google_immersive_product")
	switch {
	case in.PageToken != "":
		params.Set("page_token", in.PageToken)
	case in.ProductID != "":
		params.Set("product_id", in.ProductID)
	default:
		return nil, eris.New("serpapi: immersive needs a page token or product id")
	}

	var resp immersiveResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, eris.Errorf("serpapi: immersive: %s", resp.Error)
	}

	sellers := append(resp.ProductResults.Stores, resp.SellersResults.OnlineSellers...)
	for _, s := range sellers {
		link := s.DirectLink
		if !isHTTP(link) {
			link = s.Link
		}
		if !isHTTP(link) {
			continue
		}
		total := numberPrice(s.ExtractedTotal)
		if total == 0 {
			total = ParsePrice(s.TotalPrice)
		}
		if total == 0 {
			total = numberPrice(s.ExtractedPrice)
		}
		return &ImmersiveResult{MerchantURL: link, Merchant: s.Name, TotalPrice: total}, nil
	}
	return nil, nil
}

func (c *httpClient) get(ctx context.Context, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "serpapi: rate limit wait")
		}
	}
	params.Set("api_key", c.apiKey)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "serpapi: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "serpapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "serpapi: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("serpapi", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "serpapi: unmarshal response")
	}
	return nil
}

// ParsePrice reads a display price such as "¥159,800" or "1.299,00 €". A
// trailing two-digit group after a comma is treated as decimals.
func ParsePrice(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return 0
	}
	if i := strings.LastIndexByte(digits, ','); i >= 0 && len(digits)-i == 3 && !strings.Contains(digits[i:], ".") {
		digits = strings.ReplaceAll(digits[:i], ".", "") + "." + digits[i+1:]
	}
	digits = strings.ReplaceAll(digits, ",", "")
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0
	}
	return v
}

func numberPrice(n json.Number) float64 {
	if n == "" {
		return 0
	}
	v, err := n.Float64()
	if err != nil {
		return 0
	}
	return v
}

func pageToken(apiURL string) string {
	if apiURL == "" {
		return ""
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("page_token")
}

func isHTTP(link string) bool {
	return strings.HasPrefix(link, "https://") || strings.HasPrefix(link, "http://")
}
