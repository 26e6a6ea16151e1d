// Package notion publishes advisor reports as pages in a Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is what Publish and QueryAll call: a database query to find
// earlier copies of a report, and page create/update to replace them.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// defaultRPS is Notion's documented average request rate per integration.
const defaultRPS = 3

// ClientOption configures NewClient.
type ClientOption func(*publisherClient)

// WithRateLimit sets the request rate. A non-positive rps disables
// throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *publisherClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type pageAPI interface {
	Create(context.Context, *notionapi.PageCreateRequest) (*notionapi.Page, error)
	Update(context.Context, notionapi.PageID, *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

type databaseAPI interface {
	Query(context.Context, notionapi.DatabaseID, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// publisherClient throttles every call through one shared limiter.
type publisherClient struct {
	pages     pageAPI
	databases databaseAPI
	limiter   *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	api := notionapi.NewClient(notionapi.Token(token))
	c := &publisherClient{
		pages:     api.Page,
		databases: api.Database,
		limiter:   rate.NewLimiter(defaultRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// throttled waits for a limiter slot, then runs fn. Errors from fn are
// wrapped with op.
func throttled[T any](ctx context.Context, c *publisherClient, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "notion: %s: rate limit", op)
		}
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrapf(err, "notion: %s", op)
	}
	return v, nil
}

func (c *publisherClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return throttled(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.databases.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *publisherClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return throttled(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.pages.Create(ctx, req)
	})
}

func (c *publisherClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return throttled(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.pages.Update(ctx, notionapi.PageID(pageID), req)
	})
}
