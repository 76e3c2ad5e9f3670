package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Registration is the front-desk input for a new patient. ID is optional.
type Registration struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender Gender `json:"gender"`
	Phone  string `json:"phone"`
}

// NextPatientID returns "P" plus the lowest free three-digit sequence number
// above the current patient count.
func NextPatientID(count int, taken func(id string) bool) string {
	for n := count + 1; ; n++ {
		id := fmt.Sprintf("P%03d", n)
		if !taken(id) {
			return id
		}
	}
}

// PatientWorkflow registers patients and completes consultations.
type PatientWorkflow struct {
	c *committer
}

func NewPatientWorkflow(store Store) *PatientWorkflow {
	return &PatientWorkflow{c: newCommitter(store)}
}

// Register creates a patient in the waiting status.
func (w *PatientWorkflow) Register(ctx context.Context, r Registration, now time.Time) (*Patient, error) {
	var created *Patient
	err := w.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		p, err := planRegister(snap, r, now)
		if err != nil {
			return nil, err
		}
		created = p
		return &changeSet{patients: []*Patient{p}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func planRegister(snap *Snapshot, r Registration, now time.Time) (*Patient, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}
	if r.Age < 0 {
		return nil, fmt.Errorf("%w: age must not be negative", ErrInvalidPatient)
	}
	if !r.Gender.Valid() {
		return nil, fmt.Errorf("%w: gender must be male or female", ErrInvalidPatient)
	}

	taken := func(id string) bool {
		_, ok := snap.Patients[id]
		return ok
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = NextPatientID(len(snap.Patients), taken)
	} else if taken(id) {
		return nil, fmt.Errorf("%w: patient %s", ErrDuplicateID, id)
	}

	return &Patient{
		ID:           id,
		Name:         name,
		Age:          r.Age,
		Gender:       r.Gender,
		Phone:        strings.TrimSpace(r.Phone),
		RegisteredAt: now,
		Status:       PatientWaiting,
	}, nil
}

// CompleteConsultation records findings and moves the patient to completed.
// The orchestrator pairs it with a prescription; on its own it only touches
// the patient.
func (w *PatientWorkflow) CompleteConsultation(ctx context.Context, patientID, symptoms, diagnosis string) (*Patient, error) {
	var updated *Patient
	err := w.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		p, err := planCompleteConsultation(snap, patientID, symptoms, diagnosis)
		if err != nil {
			return nil, err
		}
		updated = p
		return &changeSet{patients: []*Patient{p}}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func planCompleteConsultation(snap *Snapshot, patientID, symptoms, diagnosis string) (*Patient, error) {
	current, ok := snap.Patients[patientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPatient, patientID)
	}
	if !current.Status.CanTransition(PatientCompleted) {
		return nil, fmt.Errorf("%w: patient %s is %s", ErrInvalidTransition, patientID, current.Status)
	}
	p := current.clone()
	p.Symptoms = symptoms
	p.Diagnosis = diagnosis
	p.Status = PatientCompleted
	return p, nil
}

func (w *PatientWorkflow) Get(ctx context.Context, id string) (*Patient, error) {
	snap, err := w.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := snap.Patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// List returns patients in registration order, optionally by status.
func (w *PatientWorkflow) List(ctx context.Context, status PatientStatus) ([]*Patient, error) {
	snap, err := w.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all := snap.PatientList()
	if status == "" {
		return all, nil
	}
	var out []*Patient
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

// Queue returns patients still waiting to be seen, oldest first.
func (w *PatientWorkflow) Queue(ctx context.Context) ([]*Patient, error) {
	snap, err := w.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Patient
	for _, p := range snap.PatientList() {
		if p.Status != PatientCompleted {
			out = append(out, p)
		}
	}
	return out, nil
}
