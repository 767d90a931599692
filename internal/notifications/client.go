package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/retry"

	"github.com/rs/zerolog/log"
)

// ErrBreakerOpen is returned without contacting the server while the
// breaker is open.
var ErrBreakerOpen = errors.New("notification breaker open")

type Config struct {
	BaseURL   string
	Topic     string
	Enabled   bool
	BatchMode bool
	Priority  string
	Retry     retry.Config
}

// Stats counts sends since the client was created.
type Stats struct {
	Sent    int64
	Failed  int64
	Retries int64
}

// Client posts alerts about failed queue items to an ntfy topic.
type Client struct {
	http    *http.Client
	cfg     Config
	breaker *breaker

	sent    atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64

	pending sync.WaitGroup
}

func NewClient(cfg Config) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		cfg:     cfg,
		breaker: newBreaker(breakerThreshold, breakerCooldown),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled
}

func (c *Client) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Failed: c.failed.Load(), Retries: c.retries.Load()}
}

// NotifyFailed alerts about items that reached FAILED during a drain. Sends
// run in the background; Wait blocks until they finish.
func (c *Client) NotifyFailed(ctx context.Context, items []FailedItem) {
	if !c.Enabled() || len(items) == 0 {
		return
	}

	if c.cfg.BatchMode {
		log.Info().Int("failed_items", len(items)).Msg("Sending failure digest")
		c.post(ctx, digestMessage(items))
		return
	}

	log.Info().Int("failed_items", len(items)).Msg("Sending failure alerts")
	for i, item := range items {
		c.post(ctx, itemMessage(item, i+1, len(items)))
	}
}

// Wait blocks until background sends finish.
func (c *Client) Wait() {
	c.pending.Wait()
}

// post sends msg in the background. The send outlives ctx's cancellation so
// a shutdown does not drop an alert already decided on.
func (c *Client) post(ctx context.Context, msg message) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.send(context.WithoutCancel(ctx), msg); err != nil {
			log.Warn().Err(err).Str("title", msg.title).Msg("Notification not delivered")
		}
	}()
}

// send delivers msg, retrying transient failures with the configured backoff.
func (c *Client) send(ctx context.Context, msg message) error {
	if !c.Enabled() {
		return nil
	}
	if !c.breaker.allow() {
		return ErrBreakerOpen
	}

	attempt := 0
	err := retry.Run(ctx, c.cfg.Retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.retries.Add(1)
		}
		err := c.deliver(ctx, msg)
		if err != nil && !pkgerrors.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		c.failed.Add(1)
		c.breaker.failure()
		return err
	}

	c.sent.Add(1)
	c.breaker.success()
	return nil
}

func (c *Client) deliver(ctx context.Context, msg message) error {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + c.cfg.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(msg.body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build notification request")
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", msg.title)
	req.Header.Set("Tags", "warning")
	if c.cfg.Priority != "" {
		req.Header.Set("Priority", c.cfg.Priority)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "post notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return pkgerrors.New(statusCode(resp.StatusCode), fmt.Sprintf("ntfy responded %s", resp.Status))
	}
	log.Debug().Str("url", url).Int("status_code", resp.StatusCode).Msg("Notification sent")
	return nil
}

// statusCode maps an ntfy HTTP status to an error code. Throttling and
// server errors are retried.
func statusCode(status int) pkgerrors.Code {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return pkgerrors.CodeTransient
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeAuth
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	default:
		return pkgerrors.CodeValidation
	}
}
