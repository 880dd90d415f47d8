package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-referral/monitoring"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDispatchTries = 3

// Bridge is where subscription lifecycle events enter the referral core.
// Activations are stored before they are processed so a failed run can be
// driven again by RetryPending.
type Bridge struct {
	store      Store
	engine     *Engine
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
	maxTries   uint
	now        func() time.Time
}

type BridgeOption func(*Bridge)

func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

func WithBackOff(f func() backoff.BackOff) BridgeOption {
	return func(b *Bridge) { b.newBackOff = f }
}

func WithMaxTries(n uint) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.maxTries = n
		}
	}
}

func NewBridge(store Store, engine *Engine, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		store:  store,
		engine: engine,
		logger: zap.NewNop(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		maxTries: defaultDispatchTries,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnSubscriptionActivated records the activation and runs the engine for it.
// Calling it again for the same user is harmless.
func (b *Bridge) OnSubscriptionActivated(ctx context.Context, userID string) error {
	var ev ActivationEvent
	err := b.store.Atomic(ctx, func(tx Tx) error {
		var err error
		ev, err = b.Accept(ctx, tx, userID)
		return err
	})
	if err != nil {
		return err
	}
	return b.Dispatch(ctx, ev)
}

// Accept marks userID active and queues an activation event using tx, so
// callers can commit it together with their own payment bookkeeping.
func (b *Bridge) Accept(ctx context.Context, tx Tx, userID string) (ActivationEvent, error) {
	now := b.now()
	if err := tx.Accounts().SetActive(ctx, userID, true, now); err != nil {
		return ActivationEvent{}, fmt.Errorf("activate account: %w", err)
	}

	ev := ActivationEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    EventPending,
		CreatedAt: now,
	}
	if err := tx.Events().Enqueue(ctx, ev); err != nil {
		return ActivationEvent{}, fmt.Errorf("enqueue activation: %w", err)
	}
	return ev, nil
}

// Dispatch runs the engine for ev with backoff. Integrity errors stop the
// retries and dead-letter the event.
func (b *Bridge) Dispatch(ctx context.Context, ev ActivationEvent) error {
	report, err := backoff.Retry(ctx, func() (Report, error) {
		report, err := b.engine.OnChildCompleted(ctx, ev.UserID)
		if err != nil && IsIntegrity(err) {
			return report, backoff.Permanent(err)
		}
		return report, err
	}, backoff.WithBackOff(b.newBackOff()), backoff.WithMaxTries(b.maxTries))

	events := b.store.Events()
	if err != nil {
		dead := IsIntegrity(err)
		if markErr := events.MarkFailed(ctx, ev.ID, err.Error(), dead); markErr != nil {
			b.logger.Error("mark activation failed", zap.String("event", ev.ID), zap.Error(markErr))
		}
		status := EventFailed
		if dead {
			status = EventDead
		}
		monitoring.ActivationEventsTotal.WithLabelValues(string(status)).Inc()
		b.logger.Warn("activation processing failed",
			zap.String("event", ev.ID),
			zap.String("user", ev.UserID),
			zap.Bool("dead", dead),
			zap.Error(err),
		)
		return err
	}

	if err := events.MarkDone(ctx, ev.ID, b.now()); err != nil {
		return fmt.Errorf("mark activation done: %w", err)
	}
	monitoring.ActivationEventsTotal.WithLabelValues(string(EventDone)).Inc()
	b.logger.Info("activation processed",
		zap.String("event", ev.ID),
		zap.String("user", ev.UserID),
		zap.Int("edges", len(report.Edges)),
	)
	return nil
}

// RetryPending dispatches up to limit stored events that have not completed.
func (b *Bridge) RetryPending(ctx context.Context, limit int) (int, error) {
	events, err := b.store.Events().Retryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable activations: %w", err)
	}

	var errs []error
	done := 0
	for _, ev := range events {
		if err := b.Dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// OnSubscriptionLapsed clears the active flag. Completions below the user
// while it is cleared pay nothing to them.
func (b *Bridge) OnSubscriptionLapsed(ctx context.Context, userID string) error {
	if err := b.store.Accounts().SetActive(ctx, userID, false, b.now()); err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	b.logger.Info("subscription lapsed", zap.String("user", userID))
	return nil
}
