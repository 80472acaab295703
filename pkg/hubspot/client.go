// Package hubspot provides a client for the HubSpot CRM company search API.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/charlie-wiebe/market-sizing-tool/internal/resilience"
)

const (
	defaultBaseURL = "https://api.hubapi.com"
	searchPath     = "/crm/v3/objects/companies/search"
	window         = 10 * time.Second
)

// Client searches HubSpot companies.
type Client interface {
	// Enabled is false when no API key is configured. Searches on a
	// disabled client return no results and make no requests.
	Enabled() bool
	SearchByLinkedInHandle(ctx context.Context, handle string) ([]Company, error)
	SearchByDomain(ctx context.Context, domain string) ([]Company, error)
}

// Company is one HubSpot company search hit.
type Company struct {
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
}

// Properties are the company properties requested by every search.
type Properties struct {
	ObjectID       string `json:"hs_object_id"`
	Domain         string `json:"domain"`
	LinkedInHandle string `json:"hs_linkedin_handle"`
	Vertical       string `json:"vertical"`
	CreateDate     string `json:"createdate"`
}

// CreatedAt parses createdate, which HubSpot returns either as an ISO
// timestamp or as epoch milliseconds. ok is false when it is missing or
// unparseable.
func (p Properties) CreatedAt() (time.Time, bool) {
	if p.CreateDate == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, p.CreateDate); err == nil {
		return t.UTC(), true
	}
	var ms int64
	if err := json.Unmarshal([]byte(p.CreateDate), &ms); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

var searchProperties = []string{"hs_object_id", "domain", "hs_linkedin_handle", "vertical", "createdate"}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type searchResponse struct {
	Results []Company `json:"results"`
}

// Option configures the HubSpot client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit allows perWindow requests per 10 seconds.
func WithRateLimit(perWindow int) Option {
	return func(c *httpClient) {
		if perWindow > 0 {
			c.limiter = newWindowLimiter(perWindow)
		}
	}
}

// WithBackoff overrides the retry policy.
func WithBackoff(b resilience.Backoff) Option {
	return func(c *httpClient) {
		c.backoff = b
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	backoff resilience.Backoff
}

// NewClient creates a HubSpot client. An empty apiKey yields a disabled
// client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: newWindowLimiter(100),
		backoff: resilience.DefaultBackoff(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// newWindowLimiter refills n tokens every 10s and allows a burst of n, which
// keeps any 10s window at or under roughly n requests.
func newWindowLimiter(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
}

func (c *httpClient) Enabled() bool { return c.apiKey != "" }

func (c *httpClient) SearchByLinkedInHandle(ctx context.Context, handle string) ([]Company, error) {
	return c.searchEQ(ctx, "hs_linkedin_handle", handle)
}

func (c *httpClient) SearchByDomain(ctx context.Context, domain string) ([]Company, error) {
	return c.searchEQ(ctx, "domain", domain)
}

func (c *httpClient) searchEQ(ctx context.Context, property, value string) ([]Company, error) {
	if !c.Enabled() || value == "" {
		return nil, nil
	}

	body, err := json.Marshal(searchRequest{
		FilterGroups: []filterGroup{{Filters: []searchFilter{{PropertyName: property, Operator: "EQ", Value: value}}}},
		Properties:   searchProperties,
		Limit:        100,
	})
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: marshal search")
	}

	return resilience.Retry(ctx, c.backoff, "hubspot: search "+property, func(ctx context.Context) ([]Company, error) {
		return c.post(ctx, body)
	})
}

func (c *httpClient) post(ctx context.Context, body []byte) ([]Company, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "hubspot: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "hubspot: read response"), resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("hubspot: search status %d: %s", resp.StatusCode, truncate(respBody, 200))
		if resilience.TransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "hubspot: decode response"), resp.StatusCode)
	}
	return out.Results, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
