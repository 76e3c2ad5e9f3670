package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDFunc generates an id that taken reports as unused.
type IDFunc func(now time.Time, taken func(id string) bool) string

// NextPrescriptionID derives "RX" plus six digits from the creation time and
// advances until the id is free.
func NextPrescriptionID(now time.Time, taken func(id string) bool) string {
	const space = 1_000_000
	n := int(now.UnixMilli() % space)
	for i := 0; i < space; i++ {
		id := fmt.Sprintf("RX%06d", (n+i)%space)
		if !taken(id) {
			return id
		}
	}
	return "RX-" + strings.ToUpper(uuid.NewString())
}

// PrescriptionFilter narrows List results. Empty fields match everything.
type PrescriptionFilter struct {
	Status    PrescriptionStatus
	PatientID string
}

// PrescriptionWorkflow creates prescriptions and drives issued -> dispensed.
type PrescriptionWorkflow struct {
	c      *committer
	ledger *Ledger
	newID  IDFunc
	now    func() time.Time
}

func NewPrescriptionWorkflow(store Store) *PrescriptionWorkflow {
	c := newCommitter(store)
	return newPrescriptionWorkflow(c, &Ledger{c: c})
}

func newPrescriptionWorkflow(c *committer, ledger *Ledger) *PrescriptionWorkflow {
	return &PrescriptionWorkflow{
		c:      c,
		ledger: ledger,
		newID:  NextPrescriptionID,
		now:    time.Now,
	}
}

// Create issues a new prescription after checking the patient and every
// line against the current catalog.
func (w *PrescriptionWorkflow) Create(ctx context.Context, patientID string, lines []LineItem, prescriberID string, now time.Time) (*Prescription, error) {
	var created *Prescription
	err := w.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		rx, err := w.planCreate(snap, patientID, lines, prescriberID, now)
		if err != nil {
			return nil, err
		}
		created = rx
		return &changeSet{prescriptions: []*Prescription{rx}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (w *PrescriptionWorkflow) planCreate(snap *Snapshot, patientID string, lines []LineItem, prescriberID string, now time.Time) (*Prescription, error) {
	if _, ok := snap.Patients[patientID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPatient, patientID)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyPrescription
	}

	items := make([]LineItem, 0, len(lines))
	for i, line := range lines {
		if line.Quantity <= 0 || line.Quantity > MaxStock {
			return nil, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidQuantity, i+1, line.Quantity)
		}
		med, ok := snap.Medications[line.MedicationID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMedication, line.MedicationID)
		}
		if strings.TrimSpace(line.Name) == "" {
			line.Name = med.Name
		}
		items = append(items, line)
	}

	id := w.newID(now, func(id string) bool {
		_, taken := snap.Prescriptions[id]
		return taken
	})
	return &Prescription{
		ID:           id,
		PatientID:    patientID,
		PrescriberID: prescriberID,
		CreatedAt:    now,
		Items:        items,
		Status:       PrescriptionIssued,
	}, nil
}

// Dispense marks the prescription dispensed and deducts every line from
// stock as one unit. A second call fails with ErrAlreadyDispensed.
func (w *PrescriptionWorkflow) Dispense(ctx context.Context, id string) (*Prescription, []*Medication, error) {
	var (
		rx   *Prescription
		meds []*Medication
	)
	err := w.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		cs, err := w.planDispense(snap, id, w.now())
		if err != nil {
			return nil, err
		}
		rx, meds = cs.prescriptions[0], cs.medications
		return cs, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rx, meds, nil
}

func (w *PrescriptionWorkflow) planDispense(snap *Snapshot, id string, now time.Time) (*changeSet, error) {
	current, ok := snap.Prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("prescription %s: %w", id, ErrNotFound)
	}
	if current.Status == PrescriptionDispensed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDispensed, id)
	}
	if !current.Status.CanTransition(PrescriptionDispensed) {
		return nil, fmt.Errorf("%w: prescription %s is %s", ErrInvalidTransition, id, current.Status)
	}

	deltas := make([]StockDelta, 0, len(current.Items))
	for _, item := range current.Items {
		deltas = append(deltas, StockDelta{MedicationID: item.MedicationID, Delta: -item.Quantity})
	}
	meds, err := w.ledger.plan(snap, deltas)
	if err != nil {
		return nil, err
	}

	rx := current.clone()
	rx.Status = PrescriptionDispensed
	rx.DispensedAt = &now
	return &changeSet{prescriptions: []*Prescription{rx}, medications: meds}, nil
}

func (w *PrescriptionWorkflow) Get(ctx context.Context, id string) (*Prescription, error) {
	snap, err := w.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rx, ok := snap.Prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("prescription %s: %w", id, ErrNotFound)
	}
	return rx, nil
}

func (w *PrescriptionWorkflow) List(ctx context.Context, f PrescriptionFilter) ([]*Prescription, error) {
	snap, err := w.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Prescription
	for _, rx := range snap.PrescriptionList() {
		if f.Status != "" && rx.Status != f.Status {
			continue
		}
		if f.PatientID != "" && rx.PatientID != f.PatientID {
			continue
		}
		out = append(out, rx)
	}
	return out, nil
}
