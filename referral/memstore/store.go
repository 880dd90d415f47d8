// Package memstore is an in-process implementation of referral.Store. Every
// transaction runs under one mutex and is rolled back through an undo
// journal, so it gives the same atomicity the SQL store gets from the
// database.
package memstore

import (
	"context"
	"sync"

	"go-referral/referral"

	"github.com/google/btree"
)

type edgeKey struct{ parent, child string }

type levelKey struct {
	user  string
	level int
}

// parentEntry orders a parent's placements by insertion.
type parentEntry struct {
	parent string
	seq    uint64
	key    edgeKey
}

func lessParent(a, b parentEntry) bool {
	if a.parent != b.parent {
		return a.parent < b.parent
	}
	return a.seq < b.seq
}

// ledgerEntry orders a user's earnings by insertion.
type ledgerEntry struct {
	user string
	seq  uint64
	rec  referral.EarningRecord
}

func lessLedger(a, b ledgerEntry) bool {
	if a.user != b.user {
		return a.user < b.user
	}
	return a.seq < b.seq
}

type Store struct {
	mu sync.Mutex

	seq        uint64
	placements map[edgeKey]*referral.Placement
	byChild    map[string][]edgeKey
	byParent   *btree.BTreeG[parentEntry]
	levels     map[levelKey]*referral.LevelRecord
	ledger     *btree.BTreeG[ledgerEntry]
	accounts   map[string]*referral.AccountSummary
	events     map[string]*referral.ActivationEvent
	eventOrder []string

	faults map[string][]error
}

func New() *Store {
	return &Store{
		placements: make(map[edgeKey]*referral.Placement),
		byChild:    make(map[string][]edgeKey),
		byParent:   btree.NewG(32, lessParent),
		levels:     make(map[levelKey]*referral.LevelRecord),
		ledger:     btree.NewG(32, lessLedger),
		accounts:   make(map[string]*referral.AccountSummary),
		events:     make(map[string]*referral.ActivationEvent),
		faults:     make(map[string][]error),
	}
}

// FailNext makes the next call of op return err. Ops are named
// "<repo>.<Method>", e.g. "ledger.Record".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) fault(op string) error {
	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	s.faults[op] = queued[1:]
	return err
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// journal collects undo steps for one transaction. A nil journal means the
// call is not inside Atomic and must take the lock itself.
type journal struct {
	undo []func()
}

func (j *journal) add(f func()) {
	if j != nil {
		j.undo = append(j.undo, f)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type view struct {
	s *Store
	j *journal
}

func (v view) lock() func() {
	if v.j != nil {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) Placements() referral.PlacementStore { return placementRepo{v} }
func (v view) Levels() referral.LevelTracker       { return levelRepo{v} }
func (v view) Ledger() referral.EarningsLedger     { return ledgerRepo{v} }
func (v view) Accounts() referral.AccountStore     { return accountRepo{v} }
func (v view) Events() referral.ActivationQueue    { return eventRepo{v} }

func (s *Store) Placements() referral.PlacementStore { return view{s: s}.Placements() }
func (s *Store) Levels() referral.LevelTracker       { return view{s: s}.Levels() }
func (s *Store) Ledger() referral.EarningsLedger     { return view{s: s}.Ledger() }
func (s *Store) Accounts() referral.AccountStore     { return view{s: s}.Accounts() }
func (s *Store) Events() referral.ActivationQueue    { return view{s: s}.Events() }

// Atomic runs fn with the store locked. The repositories handed to fn must
// be the only ones used until it returns.
func (s *Store) Atomic(ctx context.Context, fn func(tx referral.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	committed := false
	defer func() {
		if !committed {
			j.rollback()
		}
	}()

	if err := fn(view{s: s, j: j}); err != nil {
		return err
	}
	committed = true
	return nil
}
