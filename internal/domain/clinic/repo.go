package clinic

import (
	"context"
	"sort"
)

// Store owns the canonical patient, medication and prescription collections.
// Every method may fail with an error wrapping ErrStoreUnavailable.
type Store interface {
	// Snapshot returns deep copies of all three collections taken as a single
	// consistent read.
	Snapshot(ctx context.Context) (*Snapshot, error)
	PutPatient(ctx context.Context, p *Patient) error
	PutMedication(ctx context.Context, m *Medication) error
	PutPrescription(ctx context.Context, rx *Prescription) error
	// DeletePrescription is only used to compensate a partially applied
	// commit on stores without transactions.
	DeletePrescription(ctx context.Context, id string) error
}

// Transactor is implemented by stores that can apply a group of reads and
// writes atomically. Calls made with the context handed to fn belong to the
// transaction; an error from fn discards all of its writes and is returned
// unchanged.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Snapshot is a point-in-time copy of the store keyed by id.
type Snapshot struct {
	Patients      map[string]*Patient      `json:"patients"`
	Medications   map[string]*Medication   `json:"medications"`
	Prescriptions map[string]*Prescription `json:"prescriptions"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Patients:      make(map[string]*Patient),
		Medications:   make(map[string]*Medication),
		Prescriptions: make(map[string]*Prescription),
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for id, p := range s.Patients {
		out.Patients[id] = p.clone()
	}
	for id, m := range s.Medications {
		out.Medications[id] = m.clone()
	}
	for id, rx := range s.Prescriptions {
		out.Prescriptions[id] = rx.clone()
	}
	return out
}

// PatientList returns patients ordered by registration time, then id.
func (s *Snapshot) PatientList() []*Patient {
	out := make([]*Patient, 0, len(s.Patients))
	for _, p := range s.Patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MedicationList returns the catalog ordered by id.
func (s *Snapshot) MedicationList() []*Medication {
	out := make([]*Medication, 0, len(s.Medications))
	for _, m := range s.Medications {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PrescriptionList returns prescriptions ordered by creation time, then id.
func (s *Snapshot) PrescriptionList() []*Prescription {
	out := make([]*Prescription, 0, len(s.Prescriptions))
	for _, rx := range s.Prescriptions {
		out = append(out, rx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
