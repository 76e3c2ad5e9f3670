package clinic

import (
	"context"
	"fmt"
	"math"
)

// MaxStock is the largest stock a medication may hold. It matches the
// Postgres INTEGER column.
const MaxStock = math.MaxInt32

// StockDelta is a signed stock change: positive restocks, negative consumes.
type StockDelta struct {
	MedicationID string `json:"medication_id"`
	Delta        int    `json:"delta"`
}

// Ledger is the only writer of medication stock.
type Ledger struct {
	c *committer
}

func NewLedger(store Store) *Ledger {
	return &Ledger{c: newCommitter(store)}
}

// ApplyDelta sets stock to max(0, stock+delta). Over-consumption is clamped
// to zero rather than rejected. A restock that would push stock above
// MaxStock fails with ErrInvalidQuantity.
func (l *Ledger) ApplyDelta(ctx context.Context, medicationID string, delta int) (*Medication, error) {
	meds, err := l.ApplyBatch(ctx, []StockDelta{{MedicationID: medicationID, Delta: delta}})
	if err != nil {
		return nil, err
	}
	return meds[0], nil
}

// ApplyBatch applies every delta or none of them. An id missing from the
// catalog fails the whole batch with ErrUnknownMedication.
func (l *Ledger) ApplyBatch(ctx context.Context, deltas []StockDelta) ([]*Medication, error) {
	var updated []*Medication
	err := l.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		meds, err := l.plan(snap, deltas)
		if err != nil {
			return nil, err
		}
		updated = meds
		return &changeSet{medications: meds}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// plan returns updated copies of every touched medication, in first touch
// order. Deltas for the same medication are applied in sequence.
func (l *Ledger) plan(snap *Snapshot, deltas []StockDelta) ([]*Medication, error) {
	for _, d := range deltas {
		if _, ok := snap.Medications[d.MedicationID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMedication, d.MedicationID)
		}
		if d.Delta > MaxStock || d.Delta < -MaxStock {
			return nil, fmt.Errorf("%w: delta %d for %s is out of range", ErrInvalidQuantity, d.Delta, d.MedicationID)
		}
	}

	touched := make(map[string]*Medication, len(deltas))
	var out []*Medication
	for _, d := range deltas {
		m, ok := touched[d.MedicationID]
		if !ok {
			m = snap.Medications[d.MedicationID].clone()
			touched[d.MedicationID] = m
			out = append(out, m)
		}
		next := int64(m.Stock) + int64(d.Delta)
		if next > MaxStock {
			return nil, fmt.Errorf("%w: stock of %s would exceed %d", ErrInvalidQuantity, m.ID, MaxStock)
		}
		m.Stock = floorStock(int(next))
	}
	return out, nil
}

func floorStock(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
