// Package gormstore keeps the referral tables in MySQL through gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"go-referral/referral"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

// New binds the store to db. Passing an open transaction makes every write,
// and every Atomic block, part of that transaction.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Placements() referral.PlacementStore { return &placementRepository{db: s.db} }
func (s *Store) Levels() referral.LevelTracker       { return &levelRepository{db: s.db} }
func (s *Store) Ledger() referral.EarningsLedger     { return &ledgerRepository{db: s.db} }
func (s *Store) Accounts() referral.AccountStore     { return &accountRepository{db: s.db} }
func (s *Store) Events() referral.ActivationQueue    { return &eventRepository{db: s.db} }

func (s *Store) Atomic(ctx context.Context, fn func(tx referral.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return referral.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return referral.ErrAlreadyPlaced
	}
	return err
}

type placementRepository struct {
	db *gorm.DB
}

func (r *placementRepository) Create(ctx context.Context, p referral.Placement) error {
	rec := placementModel{
		ParentID:    p.ParentID,
		ChildID:     p.ChildID,
		Side:        string(p.Side),
		Depth:       p.Depth,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
	if p.Depth == 1 {
		child := p.ChildID
		rec.DirectChildID = &child
	}
	return mapErr(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *placementRepository) Get(ctx context.Context, parentID, childID string) (referral.Placement, error) {
	var rec placementModel
	err := r.db.WithContext(ctx).
		Where("parent_id = ? AND child_id = ?", parentID, childID).
		First(&rec).Error
	if err != nil {
		return referral.Placement{}, mapErr(err)
	}
	return rec.toDomain(), nil
}

func (r *placementRepository) DirectParent(ctx context.Context, childID string) (referral.Placement, error) {
	var rec placementModel
	err := r.db.WithContext(ctx).
		Where("child_id = ? AND depth = 1", childID).
		First(&rec).Error
	if err != nil {
		return referral.Placement{}, mapErr(err)
	}
	return rec.toDomain(), nil
}

func (r *placementRepository) findForChild(ctx context.Context, childID string, onlyPending bool) ([]referral.Placement, error) {
	q := r.db.WithContext(ctx).Where("child_id = ?", childID)
	if onlyPending {
		q = q.Where("status = ?", string(referral.Pending))
	}

	var rows []placementModel
	if err := q.Order("depth ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]referral.Placement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *placementRepository) EdgesForChild(ctx context.Context, childID string) ([]referral.Placement, error) {
	return r.findForChild(ctx, childID, false)
}

func (r *placementRepository) FindPendingEdgesForChild(ctx context.Context, childID string) ([]referral.Placement, error) {
	return r.findForChild(ctx, childID, true)
}

func (r *placementRepository) MarkFinished(ctx context.Context, parentID, childID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&placementModel{}).
		Where("parent_id = ? AND child_id = ? AND status = ?", parentID, childID, string(referral.Pending)).
		Updates(map[string]any{
			"status":       string(referral.Finished),
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return false, nil
	}

	// Nothing flipped: the edge is either gone or finished by someone else.
	if _, err := r.Get(ctx, parentID, childID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *placementRepository) CountBySide(ctx context.Context, parentID string) (int, int, error) {
	var rows []struct {
		Side  string
		Count int
	}
	err := r.db.WithContext(ctx).
		Model(&placementModel{}).
		Select("side, COUNT(*) AS count").
		Where("parent_id = ?", parentID).
		Group("side").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	left, right := 0, 0
	for _, row := range rows {
		if referral.Side(row.Side) == referral.Right {
			right += row.Count
		} else {
			left += row.Count
		}
	}
	return left, right, nil
}

func (r *placementRepository) CountDirect(ctx context.Context, parentID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&placementModel{}).
		Where("parent_id = ? AND depth = 1", parentID).
		Count(&n).Error
	return int(n), err
}

func (r *placementRepository) ListDirect(ctx context.Context, parentID string, offset, limit int) ([]referral.Placement, error) {
	var rows []placementModel
	err := r.db.WithContext(ctx).
		Where("parent_id = ? AND depth = 1", parentID).
		Order("created_at ASC, child_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]referral.Placement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type levelRepository struct {
	db *gorm.DB
}

func (r *levelRepository) Get(ctx context.Context, userID string, level int) (referral.LevelRecord, error) {
	var rec levelModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND level = ?", userID, level).
		First(&rec).Error
	if err != nil {
		return referral.LevelRecord{}, mapErr(err)
	}
	return rec.toDomain(), nil
}

func (r *levelRepository) GetOrCreate(ctx context.Context, userID string, level, threshold int) (referral.LevelRecord, error) {
	rec := levelModel{UserID: userID, Level: level, Threshold: threshold}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return referral.LevelRecord{}, err
	}

	var row levelModel
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND level = ?", userID, level).
		First(&row).Error
	if err != nil {
		return referral.LevelRecord{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (r *levelRepository) IncrementSide(ctx context.Context, userID string, level int, side referral.Side) (referral.LevelRecord, error) {
	col := "left_count"
	if side == referral.Right {
		col = "right_count"
	}

	res := r.db.WithContext(ctx).
		Model(&levelModel{}).
		Where("user_id = ? AND level = ?", userID, level).
		UpdateColumn(col, gorm.Expr(col+" + ?", 1))
	if res.Error != nil {
		return referral.LevelRecord{}, res.Error
	}
	if res.RowsAffected == 0 {
		return referral.LevelRecord{}, referral.ErrNotFound
	}
	return r.Get(ctx, userID, level)
}

func (r *levelRepository) TryPromote(ctx context.Context, userID string, level int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&levelModel{}).
		Where("user_id = ? AND level = ? AND promoted_at IS NULL", userID, level).
		Where("left_count >= threshold AND right_count >= threshold").
		UpdateColumn("promoted_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *levelRepository) OpenLevel(ctx context.Context, userID string) (int, error) {
	var promoted int
	err := r.db.WithContext(ctx).
		Model(&levelModel{}).
		Select("COALESCE(MAX(level), 0)").
		Where("user_id = ? AND promoted_at IS NOT NULL", userID).
		Row().
		Scan(&promoted)
	if err != nil {
		return 0, err
	}
	return promoted + 1, nil
}

type ledgerRepository struct {
	db *gorm.DB
}

func (r *ledgerRepository) Record(ctx context.Context, rec referral.EarningRecord) (referral.EarningRecord, error) {
	row := earningModel{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Level:      rec.Level,
		Side:       string(rec.Side),
		FromUserID: rec.FromUserID,
		Amount:     rec.Amount,
		CreatedAt:  rec.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return referral.EarningRecord{}, err
	}
	return row.toDomain(), nil
}

func (r *ledgerRepository) sum(q *gorm.DB) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.Model(&earningModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Row().
		Scan(&total)
	return total, err
}

func (r *ledgerRepository) TotalFor(ctx context.Context, userID string) (decimal.Decimal, error) {
	return r.sum(r.db.WithContext(ctx).Where("user_id = ?", userID))
}

func (r *ledgerRepository) SumFor(ctx context.Context, userID string, level int, side referral.Side) (decimal.Decimal, error) {
	return r.sum(r.db.WithContext(ctx).
		Where("user_id = ? AND level = ? AND side = ?", userID, level, string(side)))
}

func (r *ledgerRepository) Recent(ctx context.Context, userID string, limit int) ([]referral.EarningRecord, error) {
	var rows []earningModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]referral.EarningRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) Get(ctx context.Context, userID string) (referral.AccountSummary, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return referral.AccountSummary{}, mapErr(err)
	}
	return rec.toDomain(), nil
}

func (r *accountRepository) AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error {
	rec := accountModel{UserID: userID, TotalEarnings: amount}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_earnings": gorm.Expr("total_earnings + ?", amount),
			}),
		}).
		Create(&rec).Error
}

func (r *accountRepository) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	rec := accountModel{UserID: userID, TotalEarnings: decimal.Zero, ActiveSubscription: active}
	updates := map[string]any{"active_subscription": active}
	if active {
		rec.ActivatedAt = &at
		updates["activated_at"] = gorm.Expr("COALESCE(activated_at, ?)", at)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(&rec).Error
}

type eventRepository struct {
	db *gorm.DB
}

func (r *eventRepository) Enqueue(ctx context.Context, ev referral.ActivationEvent) error {
	rec := eventModel{
		ID:        ev.ID,
		UserID:    ev.UserID,
		Status:    string(ev.Status),
		CreatedAt: ev.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *eventRepository) update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&eventModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return referral.ErrNotFound
	}
	return nil
}

func (r *eventRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":       string(referral.EventDone),
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   "",
		"processed_at": at,
	})
}

func (r *eventRepository) MarkFailed(ctx context.Context, id, reason string, dead bool) error {
	status := referral.EventFailed
	if dead {
		status = referral.EventDead
	}
	return r.update(ctx, id, map[string]any{
		"status":     string(status),
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
	})
}

func (r *eventRepository) Retryable(ctx context.Context, limit int) ([]referral.ActivationEvent, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(referral.EventPending), string(referral.EventFailed)}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []eventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]referral.ActivationEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
