package clinic

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memTx struct {
	store *MemoryStore
	work  *Snapshot
}

// MemoryStore keeps all collections in process. Transactions work on a
// private copy that replaces the live state only when the unit succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *Snapshot

	// txMu serializes transactions so each copy starts from the latest state.
	txMu sync.Mutex

	// persist, when set, must durably record the new state before it becomes
	// visible. An error aborts the commit.
	persist func(ctx context.Context, next *Snapshot) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewSnapshot()}
}

func (s *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok || tx.store != s {
		return nil
	}
	return tx
}

// InTx runs fn against a working copy. Nested calls join the outer unit.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return unavailable("begin", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &memTx{store: s, work: s.state.Clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist(ctx, tx.work); err != nil {
			return unavailable("persist", err)
		}
	}

	s.mu.Lock()
	s.state = tx.work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	if tx := s.txFrom(ctx); tx != nil {
		return tx.work.Clone(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("snapshot", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

// mutate applies fn inside the caller's transaction, or in a unit of its own.
func (s *MemoryStore) mutate(ctx context.Context, fn func(st *Snapshot)) error {
	if tx := s.txFrom(ctx); tx != nil {
		fn(tx.work)
		return nil
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		fn(s.txFrom(ctx).work)
		return nil
	})
}

func (s *MemoryStore) PutPatient(ctx context.Context, p *Patient) error {
	cp := p.clone()
	return s.mutate(ctx, func(st *Snapshot) { st.Patients[cp.ID] = cp })
}

func (s *MemoryStore) PutMedication(ctx context.Context, m *Medication) error {
	cp := m.clone()
	return s.mutate(ctx, func(st *Snapshot) { st.Medications[cp.ID] = cp })
}

func (s *MemoryStore) PutPrescription(ctx context.Context, rx *Prescription) error {
	cp := rx.clone()
	return s.mutate(ctx, func(st *Snapshot) { st.Prescriptions[cp.ID] = cp })
}

func (s *MemoryStore) DeletePrescription(ctx context.Context, id string) error {
	return s.mutate(ctx, func(st *Snapshot) { delete(st.Prescriptions, id) })
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// load replaces the live state without persisting it.
func (s *MemoryStore) load(snap *Snapshot) {
	s.mu.Lock()
	s.state = snap
	s.mu.Unlock()
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Transactor = (*MemoryStore)(nil)
)
