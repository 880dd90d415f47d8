package referral

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PlacementStore is the durable record of who is placed under whom.
type PlacementStore interface {
	Create(ctx context.Context, p Placement) error
	Get(ctx context.Context, parentID, childID string) (Placement, error)
	// DirectParent returns the depth-1 edge of childID, or ErrNotFound.
	DirectParent(ctx context.Context, childID string) (Placement, error)
	// EdgesForChild returns every edge of childID regardless of status, by depth.
	EdgesForChild(ctx context.Context, childID string) ([]Placement, error)
	FindPendingEdgesForChild(ctx context.Context, childID string) ([]Placement, error)
	// MarkFinished flips pending to finished. It reports true, and changes
	// nothing, when the edge was already finished.
	MarkFinished(ctx context.Context, parentID, childID string, at time.Time) (alreadyFinished bool, err error)
	CountBySide(ctx context.Context, parentID string) (left, right int, err error)
	CountDirect(ctx context.Context, parentID string) (int, error)
	ListDirect(ctx context.Context, parentID string, offset, limit int) ([]Placement, error)
}

type LevelTracker interface {
	Get(ctx context.Context, userID string, level int) (LevelRecord, error)
	// GetOrCreate creates the record with the given threshold when absent. An
	// existing record keeps its own threshold.
	GetOrCreate(ctx context.Context, userID string, level, threshold int) (LevelRecord, error)
	IncrementSide(ctx context.Context, userID string, level int, side Side) (LevelRecord, error)
	TryPromote(ctx context.Context, userID string, level int, at time.Time) (bool, error)
	// OpenLevel is the lowest level the user has not been promoted out of.
	OpenLevel(ctx context.Context, userID string) (int, error)
}

// EarningsLedger is append only.
type EarningsLedger interface {
	Record(ctx context.Context, rec EarningRecord) (EarningRecord, error)
	TotalFor(ctx context.Context, userID string) (decimal.Decimal, error)
	SumFor(ctx context.Context, userID string, level int, side Side) (decimal.Decimal, error)
	Recent(ctx context.Context, userID string, limit int) ([]EarningRecord, error)
}

type AccountStore interface {
	Get(ctx context.Context, userID string) (AccountSummary, error)
	AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error
	// SetActive stores the subscription flag. ActivatedAt is only set the
	// first time the account becomes active.
	SetActive(ctx context.Context, userID string, active bool, at time.Time) error
}

type ActivationQueue interface {
	Enqueue(ctx context.Context, ev ActivationEvent) error
	MarkDone(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, dead bool) error
	// Retryable lists pending and failed events, oldest first.
	Retryable(ctx context.Context, limit int) ([]ActivationEvent, error)
}

// Tx is the set of repositories that share one transaction.
type Tx interface {
	Placements() PlacementStore
	Levels() LevelTracker
	Ledger() EarningsLedger
	Accounts() AccountStore
	Events() ActivationQueue
}

// Store exposes the repositories outside of a transaction and runs fn
// atomically: either every write made through tx is kept or none is.
type Store interface {
	Tx
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

type CodeResolver interface {
	// ResolveCode returns the user that owns code, or ErrNotFound.
	ResolveCode(ctx context.Context, code string) (string, error)
}

type Notifier interface {
	LevelPromoted(ctx context.Context, userID string, level int)
}

type nopNotifier struct{}

func (nopNotifier) LevelPromoted(context.Context, string, int) {}
