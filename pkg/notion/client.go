// Package notion publishes comparison datasets as rows of a Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// notionRPS is the documented Notion API rate limit.
const notionRPS = 3

// Client is the slice of the Notion API the publisher needs.
type Client interface {
	GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption adjusts the wrapped client.
type ClientOption func(*apiClient)

// WithRateLimit replaces the default 3 req/s throttle. Zero or negative
// disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		if rps <= 0 {
			c.limit = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limit = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type apiClient struct {
	api   *notionapi.Client
	limit *rate.Limiter
}

// NewClient wraps the Notion SDK with the integration token and the stock
// API throttle.
func NewClient(token string, opts ...ClientOption) Client {
	c := &apiClient{
		api:   notionapi.NewClient(notionapi.Token(token)),
		limit: rate.NewLimiter(notionRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) throttle(ctx context.Context) error {
	if c.limit == nil {
		return nil
	}
	if err := c.limit.Wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}
	return nil
}

func (c *apiClient) GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	db, err := c.api.Database.Get(ctx, notionapi.DatabaseID(dbID))
	if err != nil {
		return nil, eris.Wrapf(err, "notion: get database %s", dbID)
	}
	return db, nil
}

func (c *apiClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	page, err := c.api.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}
