package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go-referral/referral"

	"github.com/shopspring/decimal"
)

type placementRepo struct{ view }

func (r placementRepo) Create(_ context.Context, p referral.Placement) error {
	defer r.lock()()
	if err := r.s.fault("placements.Create"); err != nil {
		return err
	}

	key := edgeKey{p.ParentID, p.ChildID}
	if _, ok := r.s.placements[key]; ok {
		return fmt.Errorf("placement %s->%s exists: %w", p.ParentID, p.ChildID, referral.ErrAlreadyPlaced)
	}
	if p.Depth == 1 {
		for _, k := range r.s.byChild[p.ChildID] {
			if r.s.placements[k].Depth == 1 {
				return fmt.Errorf("%s already has direct referrer %s: %w", p.ChildID, k.parent, referral.ErrAlreadyPlaced)
			}
		}
	}

	cp := p
	entry := parentEntry{parent: p.ParentID, seq: r.s.nextSeq(), key: key}
	r.s.placements[key] = &cp
	r.s.byChild[p.ChildID] = append(r.s.byChild[p.ChildID], key)
	r.s.byParent.ReplaceOrInsert(entry)

	r.j.add(func() {
		delete(r.s.placements, key)
		keys := r.s.byChild[p.ChildID]
		r.s.byChild[p.ChildID] = keys[:len(keys)-1]
		if len(r.s.byChild[p.ChildID]) == 0 {
			delete(r.s.byChild, p.ChildID)
		}
		r.s.byParent.Delete(entry)
	})
	return nil
}

func (r placementRepo) Get(_ context.Context, parentID, childID string) (referral.Placement, error) {
	defer r.lock()()
	p, ok := r.s.placements[edgeKey{parentID, childID}]
	if !ok {
		return referral.Placement{}, referral.ErrNotFound
	}
	return *p, nil
}

func (r placementRepo) DirectParent(_ context.Context, childID string) (referral.Placement, error) {
	defer r.lock()()
	for _, key := range r.s.byChild[childID] {
		if p := r.s.placements[key]; p.Depth == 1 {
			return *p, nil
		}
	}
	return referral.Placement{}, referral.ErrNotFound
}

func (r placementRepo) childEdges(childID string, onlyPending bool) []referral.Placement {
	var out []referral.Placement
	for _, key := range r.s.byChild[childID] {
		p := r.s.placements[key]
		if onlyPending && p.Status != referral.Pending {
			continue
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out
}

func (r placementRepo) EdgesForChild(_ context.Context, childID string) ([]referral.Placement, error) {
	defer r.lock()()
	return r.childEdges(childID, false), nil
}

func (r placementRepo) FindPendingEdgesForChild(_ context.Context, childID string) ([]referral.Placement, error) {
	defer r.lock()()
	if err := r.s.fault("placements.FindPendingEdgesForChild"); err != nil {
		return nil, err
	}
	return r.childEdges(childID, true), nil
}

func (r placementRepo) MarkFinished(_ context.Context, parentID, childID string, at time.Time) (bool, error) {
	defer r.lock()()
	if err := r.s.fault("placements.MarkFinished"); err != nil {
		return false, err
	}

	p, ok := r.s.placements[edgeKey{parentID, childID}]
	if !ok {
		return false, referral.ErrNotFound
	}
	if p.Status == referral.Finished {
		return true, nil
	}

	p.Status = referral.Finished
	completed := at
	p.CompletedAt = &completed
	r.j.add(func() {
		p.Status = referral.Pending
		p.CompletedAt = nil
	})
	return false, nil
}

func (r placementRepo) ascendParent(parentID string, fn func(p *referral.Placement) bool) {
	lo := parentEntry{parent: parentID}
	hi := parentEntry{parent: parentID, seq: math.MaxUint64}
	r.s.byParent.AscendRange(lo, hi, func(e parentEntry) bool {
		return fn(r.s.placements[e.key])
	})
}

func (r placementRepo) CountBySide(_ context.Context, parentID string) (int, int, error) {
	defer r.lock()()
	left, right := 0, 0
	r.ascendParent(parentID, func(p *referral.Placement) bool {
		if p.Side == referral.Right {
			right++
		} else {
			left++
		}
		return true
	})
	return left, right, nil
}

func (r placementRepo) CountDirect(_ context.Context, parentID string) (int, error) {
	defer r.lock()()
	n := 0
	r.ascendParent(parentID, func(p *referral.Placement) bool {
		if p.Depth == 1 {
			n++
		}
		return true
	})
	return n, nil
}

func (r placementRepo) ListDirect(_ context.Context, parentID string, offset, limit int) ([]referral.Placement, error) {
	defer r.lock()()
	var out []referral.Placement
	skipped := 0
	r.ascendParent(parentID, func(p *referral.Placement) bool {
		if p.Depth != 1 {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, *p)
		return len(out) < limit
	})
	return out, nil
}

type levelRepo struct{ view }

func (r levelRepo) Get(_ context.Context, userID string, level int) (referral.LevelRecord, error) {
	defer r.lock()()
	rec, ok := r.s.levels[levelKey{userID, level}]
	if !ok {
		return referral.LevelRecord{}, referral.ErrNotFound
	}
	return *rec, nil
}

func (r levelRepo) GetOrCreate(_ context.Context, userID string, level, threshold int) (referral.LevelRecord, error) {
	defer r.lock()()
	if err := r.s.fault("levels.GetOrCreate"); err != nil {
		return referral.LevelRecord{}, err
	}

	key := levelKey{userID, level}
	if rec, ok := r.s.levels[key]; ok {
		return *rec, nil
	}
	rec := &referral.LevelRecord{UserID: userID, Level: level, Threshold: threshold}
	r.s.levels[key] = rec
	r.j.add(func() { delete(r.s.levels, key) })
	return *rec, nil
}

func (r levelRepo) IncrementSide(_ context.Context, userID string, level int, side referral.Side) (referral.LevelRecord, error) {
	defer r.lock()()
	if err := r.s.fault("levels.IncrementSide"); err != nil {
		return referral.LevelRecord{}, err
	}

	rec, ok := r.s.levels[levelKey{userID, level}]
	if !ok {
		return referral.LevelRecord{}, referral.ErrNotFound
	}
	counter := &rec.LeftCount
	if side == referral.Right {
		counter = &rec.RightCount
	}
	*counter++
	r.j.add(func() { *counter-- })
	return *rec, nil
}

func (r levelRepo) TryPromote(_ context.Context, userID string, level int, at time.Time) (bool, error) {
	defer r.lock()()
	if err := r.s.fault("levels.TryPromote"); err != nil {
		return false, err
	}

	rec, ok := r.s.levels[levelKey{userID, level}]
	if !ok || !rec.Promotable() {
		return false, nil
	}
	promoted := at
	rec.PromotedAt = &promoted
	r.j.add(func() { rec.PromotedAt = nil })
	return true, nil
}

func (r levelRepo) OpenLevel(_ context.Context, userID string) (int, error) {
	defer r.lock()()
	level := 1
	for {
		rec, ok := r.s.levels[levelKey{userID, level}]
		if !ok || rec.PromotedAt == nil {
			return level, nil
		}
		level++
	}
}

type ledgerRepo struct{ view }

func (r ledgerRepo) Record(_ context.Context, rec referral.EarningRecord) (referral.EarningRecord, error) {
	defer r.lock()()
	if err := r.s.fault("ledger.Record"); err != nil {
		return referral.EarningRecord{}, err
	}

	entry := ledgerEntry{user: rec.UserID, seq: r.s.nextSeq(), rec: rec}
	r.s.ledger.ReplaceOrInsert(entry)
	r.j.add(func() { r.s.ledger.Delete(entry) })
	return rec, nil
}

func (r ledgerRepo) ascendUser(userID string, fn func(rec referral.EarningRecord)) {
	lo := ledgerEntry{user: userID}
	hi := ledgerEntry{user: userID, seq: math.MaxUint64}
	r.s.ledger.AscendRange(lo, hi, func(e ledgerEntry) bool {
		fn(e.rec)
		return true
	})
}

func (r ledgerRepo) TotalFor(_ context.Context, userID string) (decimal.Decimal, error) {
	defer r.lock()()
	total := decimal.Zero
	r.ascendUser(userID, func(rec referral.EarningRecord) {
		total = total.Add(rec.Amount)
	})
	return total, nil
}

func (r ledgerRepo) SumFor(_ context.Context, userID string, level int, side referral.Side) (decimal.Decimal, error) {
	defer r.lock()()
	if err := r.s.fault("ledger.SumFor"); err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	r.ascendUser(userID, func(rec referral.EarningRecord) {
		if rec.Level == level && rec.Side == side {
			sum = sum.Add(rec.Amount)
		}
	})
	return sum, nil
}

func (r ledgerRepo) Recent(_ context.Context, userID string, limit int) ([]referral.EarningRecord, error) {
	defer r.lock()()
	var out []referral.EarningRecord
	hi := ledgerEntry{user: userID, seq: math.MaxUint64}
	lo := ledgerEntry{user: userID}
	r.s.ledger.DescendRange(hi, lo, func(e ledgerEntry) bool {
		out = append(out, e.rec)
		return len(out) < limit
	})
	return out, nil
}

type accountRepo struct{ view }

func (r accountRepo) Get(_ context.Context, userID string) (referral.AccountSummary, error) {
	defer r.lock()()
	acct, ok := r.s.accounts[userID]
	if !ok {
		return referral.AccountSummary{}, referral.ErrNotFound
	}
	return *acct, nil
}

// upsert returns the account for userID, creating it if needed, and journals
// a restore of its previous state.
func (r accountRepo) upsert(userID string) *referral.AccountSummary {
	acct, ok := r.s.accounts[userID]
	if !ok {
		acct = &referral.AccountSummary{UserID: userID, TotalEarnings: decimal.Zero}
		r.s.accounts[userID] = acct
		r.j.add(func() { delete(r.s.accounts, userID) })
		return acct
	}
	prev := *acct
	r.j.add(func() { *acct = prev })
	return acct
}

func (r accountRepo) AddEarnings(_ context.Context, userID string, amount decimal.Decimal) error {
	defer r.lock()()
	if err := r.s.fault("accounts.AddEarnings"); err != nil {
		return err
	}
	acct := r.upsert(userID)
	acct.TotalEarnings = acct.TotalEarnings.Add(amount)
	return nil
}

func (r accountRepo) SetActive(_ context.Context, userID string, active bool, at time.Time) error {
	defer r.lock()()
	if err := r.s.fault("accounts.SetActive"); err != nil {
		return err
	}
	acct := r.upsert(userID)
	acct.ActiveSubscription = active
	if active && acct.ActivatedAt == nil {
		activated := at
		acct.ActivatedAt = &activated
	}
	return nil
}

type eventRepo struct{ view }

func (r eventRepo) Enqueue(_ context.Context, ev referral.ActivationEvent) error {
	defer r.lock()()
	if err := r.s.fault("events.Enqueue"); err != nil {
		return err
	}
	if _, ok := r.s.events[ev.ID]; ok {
		return fmt.Errorf("activation event %s already queued", ev.ID)
	}

	cp := ev
	r.s.events[ev.ID] = &cp
	r.s.eventOrder = append(r.s.eventOrder, ev.ID)
	r.j.add(func() {
		delete(r.s.events, ev.ID)
		r.s.eventOrder = r.s.eventOrder[:len(r.s.eventOrder)-1]
	})
	return nil
}

func (r eventRepo) update(id string, fn func(ev *referral.ActivationEvent)) error {
	ev, ok := r.s.events[id]
	if !ok {
		return referral.ErrNotFound
	}
	prev := *ev
	fn(ev)
	r.j.add(func() { *ev = prev })
	return nil
}

func (r eventRepo) MarkDone(_ context.Context, id string, at time.Time) error {
	defer r.lock()()
	return r.update(id, func(ev *referral.ActivationEvent) {
		processed := at
		ev.Status = referral.EventDone
		ev.Attempts++
		ev.ProcessedAt = &processed
		ev.LastError = ""
	})
}

func (r eventRepo) MarkFailed(_ context.Context, id, reason string, dead bool) error {
	defer r.lock()()
	return r.update(id, func(ev *referral.ActivationEvent) {
		ev.Status = referral.EventFailed
		if dead {
			ev.Status = referral.EventDead
		}
		ev.Attempts++
		ev.LastError = reason
	})
}

func (r eventRepo) Retryable(_ context.Context, limit int) ([]referral.ActivationEvent, error) {
	defer r.lock()()
	var out []referral.ActivationEvent
	for _, id := range r.s.eventOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		ev := r.s.events[id]
		if ev.Status == referral.EventPending || ev.Status == referral.EventFailed {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// Event returns a stored activation event, for inspection in tests.
func (s *Store) Event(id string) (referral.ActivationEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return referral.ActivationEvent{}, false
	}
	return *ev, true
}

// AllEvents lists all stored activation events in arrival order.
func (s *Store) AllEvents() []referral.ActivationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]referral.ActivationEvent, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, *s.events[id])
	}
	return out
}
