package clinic

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gender is the administrative gender recorded at registration.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// PatientStatus is the furthest workflow stage a patient has reached.
type PatientStatus string

const (
	PatientWaiting PatientStatus = "waiting"
	// PatientInConsultation is informational only: selecting a patient in the
	// clinician queue does not persist it and no operation produces it.
	PatientInConsultation PatientStatus = "in-consultation"
	PatientCompleted      PatientStatus = "completed"
	// PatientAwaitingPayment is declared but not produced by any operation.
	PatientAwaitingPayment PatientStatus = "awaiting-payment"
)

// patientTransitions lists the statuses a patient may move to from each
// status. A completed patient may be completed again on a follow-up visit;
// nothing moves back to waiting.
var patientTransitions = map[PatientStatus][]PatientStatus{
	PatientWaiting:         {PatientInConsultation, PatientCompleted},
	PatientInConsultation:  {PatientCompleted},
	PatientCompleted:       {PatientCompleted},
	PatientAwaitingPayment: {PatientCompleted},
}

func (s PatientStatus) Valid() bool {
	_, ok := patientTransitions[s]
	return ok
}

// CanTransition reports whether the transition table allows s -> next.
func (s PatientStatus) CanTransition(next PatientStatus) bool {
	for _, allowed := range patientTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PrescriptionStatus tracks a prescription from issue to dispense.
type PrescriptionStatus string

const (
	PrescriptionIssued PrescriptionStatus = "issued"
	// PrescriptionPaid is declared but unreachable: no operation produces it.
	PrescriptionPaid      PrescriptionStatus = "paid"
	PrescriptionDispensed PrescriptionStatus = "dispensed"
)

var prescriptionTransitions = map[PrescriptionStatus][]PrescriptionStatus{
	PrescriptionIssued:    {PrescriptionDispensed},
	PrescriptionPaid:      nil,
	PrescriptionDispensed: nil, // terminal
}

func (s PrescriptionStatus) Valid() bool {
	_, ok := prescriptionTransitions[s]
	return ok
}

func (s PrescriptionStatus) CanTransition(next PrescriptionStatus) bool {
	for _, allowed := range prescriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Patient is a registered clinic patient.
type Patient struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Age          int           `json:"age"`
	Gender       Gender        `json:"gender"`
	Phone        string        `json:"phone"`
	RegisteredAt time.Time     `json:"registered_at"`
	Status       PatientStatus `json:"status"`
	Symptoms     string        `json:"symptoms,omitempty"`
	Diagnosis    string        `json:"diagnosis,omitempty"`
}

func (p *Patient) clone() *Patient {
	cp := *p
	return &cp
}

// Prescriber is a clinician allowed to sign prescriptions.
type Prescriber struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Title      string `json:"title"`
}

// Medication is a catalog entry with its current stock on hand.
type Medication struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Unit     string          `json:"unit"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
}

func (m *Medication) clone() *Medication {
	cp := *m
	return &cp
}

// LineItem is one medication entry within a prescription.
type LineItem struct {
	MedicationID string `json:"medication_id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Quantity     int    `json:"quantity"`
}

// Prescription is issued at the end of a visit and dispensed by the pharmacy.
type Prescription struct {
	ID           string             `json:"id"`
	PatientID    string             `json:"patient_id"`
	PrescriberID string             `json:"prescriber_id"`
	CreatedAt    time.Time          `json:"created_at"`
	Items        []LineItem         `json:"items"`
	Status       PrescriptionStatus `json:"status"`
	DispensedAt  *time.Time         `json:"dispensed_at,omitempty"`
}

func (rx *Prescription) clone() *Prescription {
	cp := *rx
	cp.Items = append([]LineItem(nil), rx.Items...)
	if rx.DispensedAt != nil {
		t := *rx.DispensedAt
		cp.DispensedAt = &t
	}
	return &cp
}

// StockLevel buckets a medication's stock for the store room view.
type StockLevel string

const (
	StockSufficient StockLevel = "sufficient"
	StockWarning    StockLevel = "warning"
	StockShortage   StockLevel = "shortage"
)

// StockThresholds holds the boundaries used by ClassifyStock. Stock above
// Warning is sufficient, above Shortage is a warning, anything else is a
// shortage.
type StockThresholds struct {
	Warning  int
	Shortage int
}

func DefaultStockThresholds() StockThresholds {
	return StockThresholds{Warning: 100, Shortage: 50}
}

func ClassifyStock(stock int, t StockThresholds) StockLevel {
	switch {
	case stock > t.Warning:
		return StockSufficient
	case stock > t.Shortage:
		return StockWarning
	default:
		return StockShortage
	}
}
