package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sender is the delivery capability (email, SMS, push — transport is the
// collaborator's concern). Delivery failure is reported as a false/error
// return, never as control flow elsewhere.
type Sender interface {
	Send(ctx context.Context, n *Notification) (delivered bool, err error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n *Notification) (bool, error)

func (f SenderFunc) Send(ctx context.Context, n *Notification) (bool, error) { return f(ctx, n) }

// Dispatcher drives the delivery state machine:
// pending → sent → delivered → acknowledged → resolved, with failed terminal
// from sent after the retry budget is spent. Attempts back off exponentially
// from BackoffBase. Failure of a critical/high notification fires the
// escalation hook so the alert is never silently lost.
type Dispatcher struct {
	repo        Repository
	sender      Sender
	maxAttempts int
	backoffBase time.Duration
	log         zerolog.Logger

	// OnSent fires after a notification reaches sent (the action queue
	// manager derives items from it). OnFailed fires after the retry budget
	// is exhausted on a critical/high transition notification. Failed
	// escalations (nil transition id) never re-enter the hook; they rest
	// until the next sweep, which keeps a dead transport from recursing.
	OnSent   func(ctx context.Context, n *Notification)
	OnFailed func(ctx context.Context, n *Notification)

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(repo Repository, sender Sender, maxAttempts int, backoffBase time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		sender:      sender,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		log:         log,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch marks the notification sent and attempts delivery until it
// succeeds or the retry budget runs out.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	now := time.Now().UTC()
	if err := n.Advance(StatusSent, now); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := d.repo.Update(ctx, n); err != nil {
		return fmt.Errorf("persist sent: %w", err)
	}
	if d.OnSent != nil {
		d.OnSent(ctx, n)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.backoffBase << (attempt - 2)
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		n.RetryCount = attempt
		delivered, err := d.sender.Send(ctx, n)
		if err == nil && delivered {
			if err := n.Advance(StatusDelivered, time.Now().UTC()); err != nil {
				return err
			}
			n.LastError = ""
			if err := d.repo.Update(ctx, n); err != nil {
				return fmt.Errorf("persist delivered: %w", err)
			}
			d.log.Info().
				Str("notification_id", n.ID.String()).
				Int("attempts", attempt).
				Msg("notification delivered")
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("delivery declined")
		}
		n.LastError = lastErr.Error()
		if uerr := d.repo.Update(ctx, n); uerr != nil {
			return fmt.Errorf("persist attempt: %w", uerr)
		}
		d.log.Warn().
			Str("notification_id", n.ID.String()).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("delivery attempt failed")
	}

	if err := n.Advance(StatusFailed, time.Now().UTC()); err != nil {
		return err
	}
	if err := d.repo.Update(ctx, n); err != nil {
		return fmt.Errorf("persist failed: %w", err)
	}
	d.log.Error().
		Str("notification_id", n.ID.String()).
		Str("priority", string(n.Priority)).
		Msg("notification failed after exhausting retries")

	if d.OnFailed != nil && n.TransitionID != nil &&
		(n.Priority == PriorityCritical || n.Priority == PriorityHigh) {
		d.OnFailed(ctx, n)
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", d.maxAttempts, lastErr)
}
