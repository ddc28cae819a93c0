// Package memstore is an in-process, transactional implementation of every store contract.
//
// It backs dev mode when no database URL is configured and gives unit tests deterministic,
// all-or-nothing transactions: InTx works on a copy of the state behind one mutex and publishes
// the copy only when the callback succeeds.
package memstore

import (
	"maps"
	"slices"
	"sync"
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/order"
	"kiln/cmd/internal/verify"
)

// Store holds all in-memory state.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type state struct {
	batches  map[string]ledger.Batch
	creds    map[string]ledger.Credential // by id
	codes    map[string]string            // code -> credential id
	variants map[string]inventory.Variant
	orders   map[string]order.Order // header + lines, History unused
	log      []order.StatusEntry
	seq      int64
	verify   map[string]verify.Record
}

func newState() *state {
	return &state{
		batches:  make(map[string]ledger.Batch),
		creds:    make(map[string]ledger.Credential),
		codes:    make(map[string]string),
		variants: make(map[string]inventory.Variant),
		orders:   make(map[string]order.Order),
		verify:   make(map[string]verify.Record),
	}
}

// clone copies every map and slice that a transaction may mutate in place.
// Values are replaced on write, so slices inside values can be shared.
func (s *state) clone() *state {
	return &state{
		batches:  maps.Clone(s.batches),
		creds:    maps.Clone(s.creds),
		codes:    maps.Clone(s.codes),
		variants: maps.Clone(s.variants),
		orders:   maps.Clone(s.orders),
		log:      slices.Clone(s.log),
		seq:      s.seq,
		verify:   maps.Clone(s.verify),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Ledger returns the credential and batch store.
func (s *Store) Ledger() ledger.AdminStore { return &ledgerStore{s: s} }

// Inventory returns the variant store.
func (s *Store) Inventory() inventory.AdminStore { return &inventoryStore{s: s} }

// Orders returns the order store.
func (s *Store) Orders() order.Store { return &orderStore{s: s} }

// Verification returns the verification code store.
func (s *Store) Verification() verify.Store { return &verifyStore{s: s} }

// Snapshot is a read-only copy of stock and quota counters, used by tests to compare state
// around a call.
type Snapshot struct {
	Stock      map[string]int
	UsedOrders map[string]int
	Orders     int
	Lines      int
	LogEntries int
}

// Snapshot captures the current counters.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Stock:      make(map[string]int, len(s.st.variants)),
		UsedOrders: make(map[string]int, len(s.st.creds)),
		Orders:     len(s.st.orders),
		LogEntries: len(s.st.log),
	}
	for id, v := range s.st.variants {
		snap.Stock[id] = v.Stock
	}
	for id, c := range s.st.creds {
		snap.UsedOrders[id] = c.UsedOrders
	}
	for _, o := range s.st.orders {
		snap.Lines += len(o.Lines)
	}
	return snap
}

// locked runs fn on the live state.
func (s *Store) locked(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// inTx runs fn on a copy of the state and publishes it iff fn returns nil.
func (s *Store) inTx(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}
