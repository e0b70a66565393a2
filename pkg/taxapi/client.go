// Package taxapi provides a client for the API Ninjas income tax
// calculator.
package taxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// premiumMarker is the placeholder the calculator substitutes for fields
// that need a paid plan. Detection is case-insensitive and looks anywhere
// in the serialized result.
const premiumMarker = "premium subscription required"

// Client defines the income tax calculator operations.
type Client interface {
	// Calculate submits one calculation request and returns the raw
	// calculator result.
	Calculate(ctx context.Context, req CalculationRequest) (Result, error)
}

// CalculationRequest holds the query parameters for one calculation.
// Income must already be cleaned down to digits and at most one decimal
// point. FilingStatus is only sent for US requests.
type CalculationRequest struct {
	Country      string
	Region       string
	Income       string
	FilingStatus string
}

// Result is the calculator's response object. The field set varies by
// country and plan, so it stays schemaless.
type Result map[string]any

// HasPremiumPlaceholders reports whether any field of the result carries
// the premium placeholder instead of a value.
func (r Result) HasPremiumPlaceholders() bool {
	b, err := json.Marshal(r)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(b)), premiumMarker)
}

// GatedFields returns the names of every field whose value carries the
// premium placeholder, sorted. The backfill flow replaces exactly these
// fields and nothing else.
func (r Result) GatedFields() []string {
	var gated []string
	for name, v := range r {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(b)), premiumMarker) {
			gated = append(gated, name)
		}
	}
	sort.Strings(gated)
	return gated
}

// Option configures the calculator client.
type Option func(*httpClient)

// WithBaseURL points the client somewhere other than the live API, which
// is how the tests stand in an httptest server.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient builds the production client. The default base URL points at
// API Ninjas.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.api-ninjas.com",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const calcAttempts = 3

// transient reports whether the status is worth another attempt. API
// Ninjas serves 429 on plan exhaustion and the usual 5xx set on hiccups.
func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// do sends the request up to calcAttempts times, sleeping 1s then 2s
// between tries. Transport errors and transient statuses retry; any other
// status comes back with its body for the caller to judge.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	var lastErr error
	delay := time.Second
	for attempt := range calcAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = eris.Wrap(err, "taxapi: send request")
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, eris.Wrap(err, "taxapi: read body")
		}
		if transient(resp.StatusCode) {
			lastErr = eris.Errorf("taxapi: status %d: %s", resp.StatusCode, string(body))
			continue
		}
		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func (c *httpClient) Calculate(ctx context.Context, calcReq CalculationRequest) (Result, error) {
	query := url.Values{}
	query.Set("country", calcReq.Country)
	query.Set("region", calcReq.Region)
	query.Set("income", calcReq.Income)
	if strings.EqualFold(calcReq.Country, "US") && calcReq.FilingStatus != "" {
		query.Set("filing_status", calcReq.FilingStatus)
	}

	reqURL := fmt.Sprintf("%s/v1/incometaxcalculator?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "taxapi: build request")
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("taxapi: unexpected status %d: %s", statusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "taxapi: unmarshal response")
	}

	return result, nil
}
