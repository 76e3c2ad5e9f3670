package clinic

import (
	"context"
	"errors"
	"sync"
)

// changeSet is the full set of records an action writes back. Records are
// new copies; the snapshot they were derived from is never mutated.
type changeSet struct {
	prescriptions []*Prescription
	medications   []*Medication
	patients      []*Patient
}

func (cs *changeSet) empty() bool {
	return cs == nil || len(cs.prescriptions) == 0 && len(cs.medications) == 0 && len(cs.patients) == 0
}

// planFunc validates an action against one snapshot and returns the writes
// it needs. It must not touch the store.
type planFunc func(snap *Snapshot) (*changeSet, error)

// committer runs planFuncs as all-or-nothing units. The mutex serializes
// actions issued through the same committer so validation and writes of one
// action never interleave with another's.
type committer struct {
	store Store
	mu    sync.Mutex
}

func newCommitter(store Store) *committer {
	return &committer{store: store}
}

func (c *committer) snapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, unavailable("snapshot", err)
	}
	return snap, nil
}

func (c *committer) commit(ctx context.Context, plan planFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx, ok := c.store.(Transactor); ok {
		return tx.InTx(ctx, func(ctx context.Context) error {
			snap, err := c.snapshot(ctx)
			if err != nil {
				return err
			}
			cs, err := plan(snap)
			if err != nil || cs.empty() {
				return err
			}
			return c.write(ctx, cs)
		})
	}

	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}
	cs, err := plan(snap)
	if err != nil || cs.empty() {
		return err
	}
	return c.writeCompensating(ctx, snap, cs)
}

func (c *committer) write(ctx context.Context, cs *changeSet) error {
	for _, rx := range cs.prescriptions {
		if err := c.store.PutPrescription(ctx, rx); err != nil {
			return unavailable("put prescription", err)
		}
	}
	for _, m := range cs.medications {
		if err := c.store.PutMedication(ctx, m); err != nil {
			return unavailable("put medication", err)
		}
	}
	for _, p := range cs.patients {
		if err := c.store.PutPatient(ctx, p); err != nil {
			return unavailable("put patient", err)
		}
	}
	return nil
}

// writeCompensating applies cs one record at a time and, on the first
// failure, restores every record already written to its before image.
func (c *committer) writeCompensating(ctx context.Context, before *Snapshot, cs *changeSet) error {
	var undo []func(context.Context) error

	fail := func(op string, err error) error {
		rbCtx := context.WithoutCancel(ctx)
		var rbErrs []error
		for i := len(undo) - 1; i >= 0; i-- {
			if rbErr := undo[i](rbCtx); rbErr != nil {
				rbErrs = append(rbErrs, rbErr)
			}
		}
		if len(rbErrs) > 0 {
			return unavailable(op, errors.Join(append([]error{err}, rbErrs...)...))
		}
		return unavailable(op, err)
	}

	for _, rx := range cs.prescriptions {
		if err := c.store.PutPrescription(ctx, rx); err != nil {
			return fail("put prescription", err)
		}
		if prev, ok := before.Prescriptions[rx.ID]; ok {
			undo = append(undo, func(ctx context.Context) error { return c.store.PutPrescription(ctx, prev) })
		} else {
			id := rx.ID
			undo = append(undo, func(ctx context.Context) error { return c.store.DeletePrescription(ctx, id) })
		}
	}
	for _, m := range cs.medications {
		if err := c.store.PutMedication(ctx, m); err != nil {
			return fail("put medication", err)
		}
		if prev, ok := before.Medications[m.ID]; ok {
			undo = append(undo, func(ctx context.Context) error { return c.store.PutMedication(ctx, prev) })
		}
	}
	for _, p := range cs.patients {
		if err := c.store.PutPatient(ctx, p); err != nil {
			return fail("put patient", err)
		}
		if prev, ok := before.Patients[p.ID]; ok {
			undo = append(undo, func(ctx context.Context) error { return c.store.PutPatient(ctx, prev) })
		}
	}
	return nil
}
