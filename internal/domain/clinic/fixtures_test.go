package clinic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// seedFixture puts one waiting patient and two medications into store.
func seedFixture(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.PutPatient(ctx, &Patient{
		ID: "P001", Name: "张三", Age: 34, Gender: GenderMale,
		Phone: "13800000000", RegisteredAt: testNow.Add(-time.Hour), Status: PatientWaiting,
	}); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	for _, m := range []*Medication{
		{ID: "M1", Name: "Amoxicillin", Unit: "box", Price: decimal.RequireFromString("12.50"), Stock: 10},
		{ID: "M2", Name: "Ibuprofen", Unit: "box", Price: decimal.RequireFromString("25.00"), Stock: 5},
	} {
		if err := store.PutMedication(ctx, m); err != nil {
			t.Fatalf("seed medication: %v", err)
		}
	}
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	seedFixture(t, store)
	opts = append([]Option{WithClock(fixedClock), WithDefaultPrescriber(DefaultPrescriberID)}, opts...)
	return NewSession(store, opts...), store
}

func mustSnapshot(t *testing.T, store Store) *Snapshot {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// faultStore is a Store without transactions whose writes can be made to
// fail. Failures are chosen by operation and record id.
type faultStore struct {
	mu     sync.Mutex
	state  *Snapshot
	failOn map[string]bool // "put_medication:M2"
	writes []string
}

func newFaultStore() *faultStore {
	return &faultStore{state: NewSnapshot(), failOn: map[string]bool{}}
}

var errDiskFull = errors.New("disk full")

func (s *faultStore) record(op, id string) error {
	key := fmt.Sprintf("%s:%s", op, id)
	s.writes = append(s.writes, key)
	if s.failOn[key] {
		return errDiskFull
	}
	return nil
}

func (s *faultStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn["snapshot:"] {
		return nil, errDiskFull
	}
	return s.state.Clone(), nil
}

func (s *faultStore) PutPatient(ctx context.Context, p *Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("put_patient", p.ID); err != nil {
		return err
	}
	s.state.Patients[p.ID] = p.clone()
	return nil
}

func (s *faultStore) PutMedication(ctx context.Context, m *Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("put_medication", m.ID); err != nil {
		return err
	}
	s.state.Medications[m.ID] = m.clone()
	return nil
}

func (s *faultStore) PutPrescription(ctx context.Context, rx *Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("put_prescription", rx.ID); err != nil {
		return err
	}
	s.state.Prescriptions[rx.ID] = rx.clone()
	return nil
}

func (s *faultStore) DeletePrescription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("delete_prescription", id); err != nil {
		return err
	}
	delete(s.state.Prescriptions, id)
	return nil
}

func (s *faultStore) fail(key string) {
	s.mu.Lock()
	s.failOn[key] = true
	s.mu.Unlock()
}

func (s *faultStore) heal() {
	s.mu.Lock()
	s.failOn = map[string]bool{}
	s.mu.Unlock()
}
