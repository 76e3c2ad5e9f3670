package clinic

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestLedger_ApplyDelta(t *testing.T) {
	tests := []struct {
		name    string
		delta   int
		want    int
		wantErr error
	}{
		{"restock", 15, 25, nil},
		{"consume", -4, 6, nil},
		{"consume all", -10, 0, nil},
		{"over consume clamps", -25, 0, nil},
		{"zero", 0, 10, nil},
		{"restock to max", MaxStock - 10, MaxStock, nil},
		{"restock past max", MaxStock - 9, 10, ErrInvalidQuantity},
		{"huge restock", math.MaxInt, 10, ErrInvalidQuantity},
		{"huge consume", math.MinInt, 10, ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			seedFixture(t, store)
			l := NewLedger(store)

			m, err := l.ApplyDelta(context.Background(), "M1", tt.delta)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if m.Stock != tt.want {
					t.Errorf("expected stock %d, got %d", tt.want, m.Stock)
				}
			}
			if got := mustSnapshot(t, store).Medications["M1"].Stock; got != tt.want {
				t.Errorf("expected stored stock %d, got %d", tt.want, got)
			}
		})
	}
}

func TestLedger_ApplyDelta_Unknown(t *testing.T) {
	store := NewMemoryStore()
	seedFixture(t, store)

	_, err := NewLedger(store).ApplyDelta(context.Background(), "M404", 1)
	if !errors.Is(err, ErrUnknownMedication) {
		t.Fatalf("expected ErrUnknownMedication, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected unknown medication to match ErrNotFound")
	}
}

func TestLedger_ApplyBatch_AllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	seedFixture(t, store)

	_, err := NewLedger(store).ApplyBatch(context.Background(), []StockDelta{
		{MedicationID: "M1", Delta: -2},
		{MedicationID: "M404", Delta: -1},
	})
	if !errors.Is(err, ErrUnknownMedication) {
		t.Fatalf("expected ErrUnknownMedication, got %v", err)
	}
	if got := mustSnapshot(t, store).Medications["M1"].Stock; got != 10 {
		t.Errorf("expected M1 untouched at 10, got %d", got)
	}
}

func TestLedger_ApplyBatch_RepeatedID(t *testing.T) {
	store := NewMemoryStore()
	seedFixture(t, store)

	meds, err := NewLedger(store).ApplyBatch(context.Background(), []StockDelta{
		{MedicationID: "M2", Delta: -3},
		{MedicationID: "M1", Delta: 1},
		{MedicationID: "M2", Delta: -1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meds) != 2 {
		t.Fatalf("expected 2 touched medications, got %d", len(meds))
	}
	if meds[0].ID != "M2" || meds[0].Stock != 1 {
		t.Errorf("expected M2 at 1 first, got %s at %d", meds[0].ID, meds[0].Stock)
	}
	if meds[1].ID != "M1" || meds[1].Stock != 11 {
		t.Errorf("expected M1 at 11, got %s at %d", meds[1].ID, meds[1].Stock)
	}
}

func TestLedger_Compensates(t *testing.T) {
	store := newFaultStore()
	seedFixture(t, store)
	store.fail("put_medication:M2")

	_, err := NewLedger(store).ApplyBatch(context.Background(), []StockDelta{
		{MedicationID: "M1", Delta: -2},
		{MedicationID: "M2", Delta: -1},
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	snap := mustSnapshot(t, store)
	if snap.Medications["M1"].Stock != 10 {
		t.Errorf("expected M1 restored to 10, got %d", snap.Medications["M1"].Stock)
	}
	if snap.Medications["M2"].Stock != 5 {
		t.Errorf("expected M2 unchanged at 5, got %d", snap.Medications["M2"].Stock)
	}
}
