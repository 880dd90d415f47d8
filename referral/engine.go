package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go-referral/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// slot amounts are truncated to the ledger column precision
const amountPlaces = 8

type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeInactive Outcome = "inactive" // parent not subscribed, slot consumed
	OutcomeSkipped  Outcome = "skipped"  // edge finished by an earlier delivery
)

type EdgeResult struct {
	ParentID string          `json:"parent_id"`
	Side     Side            `json:"side"`
	Level    int             `json:"level,omitempty"`
	Outcome  Outcome         `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
	Promoted bool            `json:"promoted"`
}

type Report struct {
	ChildID string       `json:"child_id"`
	Edges   []EdgeResult `json:"edges"`
}

type EngineConfig struct {
	ShareAmount decimal.Decimal
	Thresholds  ThresholdPolicy
}

// Engine applies a child's subscription completion to every ancestor edge
// that is still pending.
type Engine struct {
	store    Store
	cfg      EngineConfig
	logger   *zap.Logger
	notifier Notifier
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		cfg:      cfg,
		logger:   zap.NewNop(),
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Thresholds() ThresholdPolicy {
	return e.cfg.Thresholds
}

// SlotAmount is what one filled slot pays on a level with the given threshold.
func (e *Engine) SlotAmount(threshold int) decimal.Decimal {
	if threshold < 1 {
		threshold = 1
	}
	return e.cfg.ShareAmount.Div(decimal.NewFromInt(int64(threshold))).Truncate(amountPlaces)
}

// OnChildCompleted is safe to call any number of times for the same child.
// Each edge is processed in its own transaction, so a failure leaves the
// edges before it consumed and the rest pending for the next attempt.
func (e *Engine) OnChildCompleted(ctx context.Context, childID string) (Report, error) {
	report := Report{ChildID: childID}

	edges, err := e.store.Placements().FindPendingEdgesForChild(ctx, childID)
	if err != nil {
		return report, fmt.Errorf("find pending edges: %w", err)
	}

	for _, edge := range edges {
		res, err := e.processEdge(ctx, edge)
		if err != nil {
			if IsIntegrity(err) {
				monitoring.IntegrityErrorsTotal.Inc()
				e.logger.Error("referral integrity violation",
					zap.String("child", childID),
					zap.String("parent", edge.ParentID),
					zap.Error(err),
				)
			}
			return report, fmt.Errorf("edge %s->%s: %w", edge.ParentID, edge.ChildID, err)
		}

		report.Edges = append(report.Edges, res)
		monitoring.ReferralEdgesTotal.WithLabelValues(string(res.Outcome)).Inc()

		if res.Outcome == OutcomePaid {
			monitoring.ReferralPayoutTotal.Add(res.Amount.InexactFloat64())
		}
		if res.Promoted {
			monitoring.ReferralPromotionsTotal.WithLabelValues(strconv.Itoa(res.Level)).Inc()
			e.logger.Info("level promoted", zap.String("user", res.ParentID), zap.Int("level", res.Level))
			e.notifier.LevelPromoted(ctx, res.ParentID, res.Level)
		}
	}

	return report, nil
}

func (e *Engine) processEdge(ctx context.Context, edge Placement) (EdgeResult, error) {
	var res EdgeResult

	err := e.store.Atomic(ctx, func(tx Tx) error {
		res = EdgeResult{ParentID: edge.ParentID, Side: edge.Side}
		now := e.now()

		already, err := tx.Placements().MarkFinished(ctx, edge.ParentID, edge.ChildID, now)
		if err != nil {
			return fmt.Errorf("mark finished: %w", err)
		}
		if already {
			res.Outcome = OutcomeSkipped
			return nil
		}

		active, err := e.parentActive(ctx, tx, edge.ParentID)
		if err != nil {
			return err
		}
		if !active {
			res.Outcome = OutcomeInactive
			return nil
		}

		levels := tx.Levels()
		rec, err := e.openRecord(ctx, levels, edge.ParentID)
		if err != nil {
			return err
		}
		level := rec.Level
		res.Level = level

		rec, err = levels.IncrementSide(ctx, edge.ParentID, level, edge.Side)
		if err != nil {
			return fmt.Errorf("increment %s: %w", edge.Side, err)
		}

		amount := e.SlotAmount(rec.Threshold)
		if err := e.pay(ctx, tx, edge, rec, amount, now); err != nil {
			return err
		}
		res.Outcome = OutcomePaid
		res.Amount = amount

		promoted, err := levels.TryPromote(ctx, edge.ParentID, level, now)
		if err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		res.Promoted = promoted
		return nil
	})

	return res, err
}

// openRecord returns the locked record of the parent's lowest unpromoted
// level. OpenLevel may come from a snapshot taken before a concurrent
// promotion committed, so promoted records are skipped under the lock.
func (e *Engine) openRecord(ctx context.Context, levels LevelTracker, parentID string) (LevelRecord, error) {
	level, err := levels.OpenLevel(ctx, parentID)
	if err != nil {
		return LevelRecord{}, fmt.Errorf("open level: %w", err)
	}
	for {
		rec, err := levels.GetOrCreate(ctx, parentID, level, e.cfg.Thresholds.Threshold(level))
		if err != nil {
			return LevelRecord{}, fmt.Errorf("level record: %w", err)
		}
		if rec.PromotedAt == nil {
			return rec, nil
		}
		level++
	}
}

func (e *Engine) parentActive(ctx context.Context, tx Tx, parentID string) (bool, error) {
	acct, err := tx.Accounts().Get(ctx, parentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("parent account: %w", err)
	}
	return acct.ActiveSubscription, nil
}

// pay records one slot for edge on rec's level. Every counted completion
// earns exactly one slot, so the side's ledger sum can never pass
// count * slot unless a completion was credited twice.
func (e *Engine) pay(ctx context.Context, tx Tx, edge Placement, rec LevelRecord, amount decimal.Decimal, now time.Time) error {
	ledger := tx.Ledger()

	_, err := ledger.Record(ctx, EarningRecord{
		ID:         uuid.NewString(),
		UserID:     edge.ParentID,
		Level:      rec.Level,
		Side:       edge.Side,
		FromUserID: edge.ChildID,
		Amount:     amount,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("record earning: %w", err)
	}

	if err := tx.Accounts().AddEarnings(ctx, edge.ParentID, amount); err != nil {
		return fmt.Errorf("add earnings: %w", err)
	}

	sum, err := ledger.SumFor(ctx, edge.ParentID, rec.Level, edge.Side)
	if err != nil {
		return fmt.Errorf("ledger sum: %w", err)
	}
	limit := amount.Mul(decimal.NewFromInt(int64(rec.Count(edge.Side))))
	if sum.GreaterThan(limit) {
		return &IntegrityError{
			UserID: edge.ParentID,
			Level:  rec.Level,
			Reason: fmt.Sprintf("%s side earnings %s exceed %d slots of %s", edge.Side, sum, rec.Count(edge.Side), amount),
		}
	}
	return nil
}
