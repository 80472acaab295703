package prospeo

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
	defaultBaseURL = "https://api.prospeo.io"

	// PageSize is the fixed number of rows per search page.
	PageSize = 25
	// MaxResultsPerQuery is the deepest a single query can paginate.
	MaxResultsPerQuery = 25000
)

// Client searches the Prospeo company and person databases.
type Client interface {
	SearchCompanies(ctx context.Context, filters any, page int) (*SearchResponse, error)
	SearchPeople(ctx context.Context, filters any, page int) (*SearchResponse, error)
	SearchSuggestions(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit spaces requests so neither per-second nor per-minute quota
// is exceeded. Non-positive values leave that quota unconstrained.
func WithRateLimit(perSecond, perMinute int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Every(MinInterval(perSecond, perMinute)), 1)
	}
}

// WithBackoff sets the retry policy for throttled or failed requests.
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

// NewClient creates a Prospeo API client. Every request, including retries,
// waits its turn on a shared leaky bucket.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(MinInterval(30, 1800)), 1),
		backoff: resilience.DefaultBackoff(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MinInterval is the spacing that honors both quotas.
func MinInterval(perSecond, perMinute int) time.Duration {
	var d time.Duration
	if perSecond > 0 {
		d = time.Second / time.Duration(perSecond)
	}
	if perMinute > 0 {
		if m := time.Minute / time.Duration(perMinute); m > d {
			d = m
		}
	}
	return d
}

type searchRequest struct {
	Page    int `json:"page"`
	Filters any `json:"filters"`
}

func (c *httpClient) SearchCompanies(ctx context.Context, filters any, page int) (*SearchResponse, error) {
	return c.search(ctx, "/search-company", filters, page)
}

func (c *httpClient) SearchPeople(ctx context.Context, filters any, page int) (*SearchResponse, error) {
	return c.search(ctx, "/search-person", filters, page)
}

func (c *httpClient) search(ctx context.Context, path string, filters any, page int) (*SearchResponse, error) {
	if page < 1 {
		page = 1
	}
	raw, err := c.post(ctx, path, searchRequest{Page: page, Filters: filters})
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{}
	if err := json.Unmarshal(raw.body, resp); err != nil {
		resp = &SearchResponse{}
		resp.Error = true
		resp.ErrorCode = CodeNonJSON
	}
	resp.HTTPStatus = raw.status
	resp.Pagination.applyDefaults()
	return resp, nil
}

func (c *httpClient) SearchSuggestions(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error) {
	payload := map[string]string{}
	switch {
	case req.Location != "":
		payload["location_search"] = req.Location
	case req.JobTitle != "":
		payload["job_title_search"] = req.JobTitle
	default:
		resp := &SuggestionResponse{}
		resp.Error = true
		resp.ErrorCode = CodeMissingParam
		return resp, nil
	}

	raw, err := c.post(ctx, "/search-suggestions", payload)
	if err != nil {
		return nil, err
	}

	resp := &SuggestionResponse{}
	if err := json.Unmarshal(raw.body, resp); err != nil {
		resp = &SuggestionResponse{}
		resp.Error = true
		resp.ErrorCode = CodeNonJSON
	}
	resp.HTTPStatus = raw.status
	return resp, nil
}

type rawResponse struct {
	status int
	body   []byte
}

// post sends payload and returns the final response body. Throttling, 5xx,
// and non-JSON bodies are retried; once retries run out the last response
// is handed back so the caller sees it as a gateway error. A Go error is
// returned only when no response was ever received.
func (c *httpClient) post(ctx context.Context, path string, payload any) (*rawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: marshal request")
	}

	raw, err := resilience.Retry(ctx, c.backoff, "prospeo"+path, func(ctx context.Context) (*rawResponse, error) {
		return c.attempt(ctx, path, body)
	})
	if raw != nil {
		return raw, nil
	}
	return nil, err
}

func (c *httpClient) attempt(ctx context.Context, path string, body []byte) (*rawResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "prospeo: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "prospeo: read response"), resp.StatusCode)
	}

	raw := &rawResponse{status: resp.StatusCode, body: respBody}
	if resilience.TransientStatus(resp.StatusCode) {
		return raw, resilience.Transient(eris.Errorf("prospeo: status %d on %s", resp.StatusCode, path), resp.StatusCode)
	}
	if !json.Valid(respBody) {
		return raw, resilience.Transient(eris.Errorf("prospeo: non-JSON body on %s (status %d)", path, resp.StatusCode), resp.StatusCode)
	}
	return raw, nil
}
