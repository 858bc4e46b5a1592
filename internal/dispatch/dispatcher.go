// Package dispatch renders classified events into chat messages and sends
// them with rate limiting, bounded retry, and commit-after-send sequencing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/blockcaptain/jackwatch/internal/logger"
	"github.com/blockcaptain/jackwatch/internal/models"
)

// Sender is the chat-delivery transport primitive. A send either succeeds or
// returns an error; errors wrapping models.ErrRejected are permanent and are
// not retried.
type Sender interface {
	Send(ctx context.Context, threadID int64, text string) error
}

// CommitFunc durably marks identifiers as notified. It is invoked only after
// the transport confirmed delivery of the message carrying them; a non-nil
// error is a state failure and aborts the rest of the dispatch.
type CommitFunc func(category string, ids []string) error

// Config carries dispatch behavior parameters.
type Config struct {
	// MinInterval is the minimum gap between outbound sends. Batches that
	// exceed the transport's rate are queued to this cadence, not dropped.
	MinInterval time.Duration
	// MaxAttempts caps delivery attempts per message (first try included).
	MaxAttempts int
	// RetryBase and RetryMax bound the exponential backoff between attempts.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Dispatcher sends formatted messages in order.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	cfg     Config
}

// New builds a dispatcher. Zero config values get conservative defaults.
func New(sender Sender, cfg Config) *Dispatcher {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cfg:     cfg,
	}
}

// Message is one formatted outbound message together with the identifiers it
// covers. Delivery and dedup commit happen at message granularity.
type Message struct {
	Category string
	ThreadID int64
	Text     string
	EventIDs []string
}

// Dispatch sends messages in order. One message's failure never blocks the
// rest; every covered event gets a DeliveryResult. The returned error is
// non-nil only for fatal conditions: a failed durable commit or an expired
// run budget. Already-produced results are returned either way.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message, commit CommitFunc) ([]models.DeliveryResult, error) {
	var results []models.DeliveryResult

	for _, msg := range msgs {
		if err := d.limiter.Wait(ctx); err != nil {
			return results, err
		}

		if err := d.sendWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logger.Warn("Delivery failed for %s message covering %d event(s): %v", msg.Category, len(msg.EventIDs), err)
			results = appendResults(results, msg.EventIDs, models.DeliveryFailed, err.Error())
			continue
		}

		// Commit strictly after confirmed delivery: a crash here duplicates
		// at worst, never silently loses a notification.
		if err := commit(msg.Category, msg.EventIDs); err != nil {
			results = appendResults(results, msg.EventIDs, models.DeliveryDelivered, "")
			return results, fmt.Errorf("commit after send: %w", err)
		}
		results = appendResults(results, msg.EventIDs, models.DeliveryDelivered, "")
	}

	return results, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, d.cfg.RetryBase, d.cfg.RetryMax)
			logger.Debug("Retrying %s send in %v (attempt %d/%d)", msg.Category, delay, attempt+1, d.cfg.MaxAttempts)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := d.sender.Send(ctx, msg.ThreadID, msg.Text)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, models.ErrRejected) {
			return &models.DeliveryError{EventID: firstID(msg.EventIDs), Attempts: attempt + 1, Err: err}
		}
	}
	return &models.DeliveryError{EventID: firstID(msg.EventIDs), Attempts: d.cfg.MaxAttempts, Err: lastErr}
}

func appendResults(results []models.DeliveryResult, ids []string, status models.DeliveryStatus, reason string) []models.DeliveryResult {
	for _, id := range ids {
		results = append(results, models.DeliveryResult{EventID: id, Status: status, Reason: reason})
	}
	return results
}

func firstID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
