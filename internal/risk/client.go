package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"grc/pkg/platform/circuit"
	"grc/pkg/platform/sentinel"
)

const generatePath = "/api/v1/vendor-risks/generate"

// Client calls the risk-analysis service.
type Client struct {
	http    *resty.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type ClientOption func(*Client)

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetRetryCount(1).
			SetRetryWaitTime(500*time.Millisecond).
			SetHeader("Accept", "application/json"),
		breaker: circuit.New("risk", circuit.WithFailureThreshold(3)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate asks the service to derive risks for an approved response. While
// the circuit is open failures carry sentinel.ErrUnavailable.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var out GenerateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(generatePath)
	if err != nil {
		return nil, c.failure(ctx, fmt.Errorf("risk generation: %w", err))
	}
	switch {
	case resp.StatusCode() >= 500:
		return nil, c.failure(ctx, fmt.Errorf("risk generation: status %d", resp.StatusCode()))
	case resp.IsError():
		c.success()
		return nil, fmt.Errorf("risk generation rejected: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	c.success()
	return &out, nil
}

func (c *Client) failure(ctx context.Context, err error) error {
	open, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "circuit opened", "circuit", c.breaker.Name())
	}
	if open {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return err
}

func (c *Client) success() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("circuit closed", "circuit", c.breaker.Name())
	}
}
