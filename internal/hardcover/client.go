package hardcover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the public GraphQL endpoint.
const DefaultEndpoint = "https://api.hardcover.app/v1/graphql"

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

const booksQuery = `query GetBooks($limit: Int!, $offset: Int!, $tagSlug: String) {
  books(
    where: {
      description: { _gt: "" }
      image_id: { _is_null: false }
      taggings: { tag: { slug: { _eq: $tagSlug } } }
    }
    order_by: { users_read_count: desc }
    limit: $limit
    offset: $offset
  ) {
    id, title, description, image { url }, contributions(limit: 1) { author { name } }, taggings(limit: 10) { tag { tag } }
  }
}`

// ErrCircuitOpen is returned while the upstream is considered down.
var ErrCircuitOpen = errors.New("hardcover circuit open")

// BreakerTimeout is how long the circuit stays open before a trial request.
const BreakerTimeout = 30 * time.Second

// Client queries the upstream book graph.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]RawBook]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the sustained request rate. A zero limit disables pacing.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		if r == 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// New creates a Client for endpoint. token may be empty.
func New(endpoint, token string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		breaker: gobreaker.NewCircuitBreaker[[]RawBook](gobreaker.Settings{
			Name:        "hardcover",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBooks returns one page of books tagged with p.GenreSlug, most read
// first.
func (c *Client) FetchBooks(ctx context.Context, p Page) ([]RawBook, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: booksQuery,
		Variables: map[string]any{
			"limit":   p.Limit,
			"offset":  p.Offset,
			"tagSlug": p.GenreSlug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	books, err := c.breaker.Execute(func() ([]RawBook, error) {
		return c.doWithRetry(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s offset %d: %w", p.GenreSlug, p.Offset, err)
	}
	return books, nil
}

func (c *Client) doWithRetry(ctx context.Context, body []byte) ([]RawBook, error) {
	var lastErr error
	for attempt := range maxRetries {
		books, err := c.do(ctx, body)
		if err == nil {
			return books, nil
		}
		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) do(ctx context.Context, body []byte) ([]RawBook, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(c.token, "Bearer "))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out booksResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if out.Data == nil {
		return nil, errors.New("graphql: response has no data")
	}
	return out.Data.Books, nil
}
