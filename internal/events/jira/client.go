// Package jira reads issue attachments from Jira so they can be linked to
// incidents alongside S3 evidence.
package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"grc/pkg/platform/circuit"
	"grc/pkg/platform/sentinel"
)

// Attachment is a file attached to a Jira issue.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Attachment []Attachment `json:"attachment"`
	} `json:"fields"`
}

type Client struct {
	http    *resty.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(200*time.Millisecond).
			SetRetryMaxWaitTime(2*time.Second).
			SetHeader("Accept", "application/json").
			SetAuthToken(token),
		breaker: circuit.New("jira"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attachments lists the attachments of an issue. An unknown issue yields
// sentinel.ErrNotFound. Failures while the circuit is open are reported as
// sentinel.ErrUnavailable so callers can skip Jira instead of failing.
func (c *Client) Attachments(ctx context.Context, issueKey string) ([]Attachment, error) {
	var out issueResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("key", issueKey).
		SetQueryParam("fields", "attachment").
		SetResult(&out).
		Get("/rest/api/2/issue/{key}")
	if err != nil {
		return nil, c.failure(ctx, fmt.Errorf("jira issue %s: %w", issueKey, err))
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		c.success()
		return nil, sentinel.ErrNotFound
	case resp.StatusCode() >= http.StatusInternalServerError:
		return nil, c.failure(ctx, fmt.Errorf("jira issue %s: status %d", issueKey, resp.StatusCode()))
	case resp.IsError():
		return nil, fmt.Errorf("jira issue %s: status %d", issueKey, resp.StatusCode())
	}
	c.success()
	return out.Fields.Attachment, nil
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
