package clinic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/his/internal/platform/metrics"
)

// VisitResult is what a committed visit leaves behind.
type VisitResult struct {
	Patient      *Patient      `json:"patient"`
	Prescription *Prescription `json:"prescription"`
}

// DispenseResult is the dispensed prescription and the stock it consumed.
type DispenseResult struct {
	Prescription *Prescription `json:"prescription"`
	Medications  []*Medication `json:"medications"`
}

// MedicationView is a catalog entry annotated with its stock level.
type MedicationView struct {
	*Medication
	Level StockLevel `json:"level"`
}

// Session is the façade the presentation layer talks to. It coordinates the
// patient workflow, prescription workflow and inventory ledger so that each
// user action either fully applies or leaves the store untouched.
type Session struct {
	c             *committer
	patients      *PatientWorkflow
	prescriptions *PrescriptionWorkflow
	ledger        *Ledger

	advisor           Advisor
	thresholds        StockThresholds
	defaultPrescriber string
	prescribers       map[string]*Prescriber
	now               func() time.Time
	logger            zerolog.Logger
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l.With().Str("component", "clinic").Logger() }
}

func WithAdvisor(a Advisor) Option {
	return func(s *Session) { s.advisor = a }
}

func WithStockThresholds(t StockThresholds) Option {
	return func(s *Session) { s.thresholds = t }
}

// WithDefaultPrescriber sets the prescriber recorded when a visit omits one.
func WithDefaultPrescriber(id string) Option {
	return func(s *Session) { s.defaultPrescriber = id }
}

// WithPrescribers installs the clinician directory. Once set, visits must
// name a prescriber from it.
func WithPrescribers(list ...*Prescriber) Option {
	return func(s *Session) {
		s.prescribers = make(map[string]*Prescriber, len(list))
		for _, p := range list {
			cp := *p
			s.prescribers[p.ID] = &cp
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
		s.prescriptions.now = now
	}
}

// WithPrescriptionIDs replaces the prescription id generator.
func WithPrescriptionIDs(fn IDFunc) Option {
	return func(s *Session) { s.prescriptions.newID = fn }
}

func NewSession(store Store, opts ...Option) *Session {
	c := newCommitter(store)
	ledger := &Ledger{c: c}
	s := &Session{
		c:             c,
		patients:      &PatientWorkflow{c: c},
		prescriptions: newPrescriptionWorkflow(c, ledger),
		ledger:        ledger,
		thresholds:    DefaultStockThresholds(),
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterPatient adds a patient to the waiting queue.
func (s *Session) RegisterPatient(ctx context.Context, r Registration) (*Patient, error) {
	p, err := s.patients.Register(ctx, r, s.now())
	if err != nil {
		return nil, s.reject("register", err)
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient registered")
	return p, nil
}

func (s *Session) ListPatients(ctx context.Context, status PatientStatus) ([]*Patient, error) {
	return s.patients.List(ctx, status)
}

func (s *Session) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.patients.Get(ctx, id)
}

func (s *Session) Queue(ctx context.Context) ([]*Patient, error) {
	return s.patients.Queue(ctx)
}

// CommitVisit records the consultation findings and issues the prescription
// as one unit. Both are validated against the same snapshot before anything
// is written; a failed write leaves neither behind.
func (s *Session) CommitVisit(ctx context.Context, patientID, symptoms, diagnosis string, lines []LineItem, prescriberID string, now time.Time) (*VisitResult, error) {
	if prescriberID == "" {
		prescriberID = s.defaultPrescriber
	}
	if s.prescribers != nil {
		if _, ok := s.prescribers[prescriberID]; !ok {
			return nil, s.reject("visit", fmt.Errorf("%w: %q", ErrUnknownPrescriber, prescriberID))
		}
	}

	var res VisitResult
	err := s.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		rx, err := s.prescriptions.planCreate(snap, patientID, lines, prescriberID, now)
		if err != nil {
			return nil, err
		}
		p, err := planCompleteConsultation(snap, patientID, symptoms, diagnosis)
		if err != nil {
			return nil, err
		}
		res = VisitResult{Patient: p, Prescription: rx}
		return &changeSet{prescriptions: []*Prescription{rx}, patients: []*Patient{p}}, nil
	})
	if err != nil {
		return nil, s.reject("visit", err)
	}

	metrics.VisitsCommitted.Inc()
	s.logger.Info().
		Str("patient_id", patientID).
		Str("prescription_id", res.Prescription.ID).
		Int("items", len(res.Prescription.Items)).
		Msg("visit committed")
	return &res, nil
}

// CommitDispense dispenses a prescription; see PrescriptionWorkflow.Dispense.
func (s *Session) CommitDispense(ctx context.Context, prescriptionID string) (*DispenseResult, error) {
	rx, meds, err := s.prescriptions.Dispense(ctx, prescriptionID)
	if err != nil {
		return nil, s.reject("dispense", err)
	}

	metrics.PrescriptionsDispensed.Inc()
	s.observeStock(meds...)
	s.logger.Info().
		Str("prescription_id", rx.ID).
		Int("medications", len(meds)).
		Msg("prescription dispensed")
	return &DispenseResult{Prescription: rx, Medications: meds}, nil
}

func (s *Session) ListPrescriptions(ctx context.Context, f PrescriptionFilter) ([]*Prescription, error) {
	return s.prescriptions.List(ctx, f)
}

func (s *Session) GetPrescription(ctx context.Context, id string) (*Prescription, error) {
	return s.prescriptions.Get(ctx, id)
}

// AdjustStock applies a signed delta through the ledger.
func (s *Session) AdjustStock(ctx context.Context, medicationID string, delta int) (*MedicationView, error) {
	m, err := s.ledger.ApplyDelta(ctx, medicationID, delta)
	if err != nil {
		return nil, s.reject("adjust_stock", err)
	}

	metrics.StockAdjustments.Inc()
	s.observeStock(m)
	s.logger.Info().
		Str("medication_id", m.ID).
		Int("delta", delta).
		Int("stock", m.Stock).
		Msg("stock adjusted")
	return s.view(m), nil
}

func (s *Session) ListMedications(ctx context.Context) ([]*MedicationView, error) {
	snap, err := s.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	meds := snap.MedicationList()
	out := make([]*MedicationView, 0, len(meds))
	for _, m := range meds {
		out = append(out, s.view(m))
	}
	return out, nil
}

func (s *Session) GetMedication(ctx context.Context, id string) (*MedicationView, error) {
	snap, err := s.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := snap.Medications[id]
	if !ok {
		return nil, fmt.Errorf("medication %s: %w", id, ErrNotFound)
	}
	return s.view(m), nil
}

// LowStock returns medications classified as warning or shortage.
func (s *Session) LowStock(ctx context.Context) ([]*MedicationView, error) {
	all, err := s.ListMedications(ctx)
	if err != nil {
		return nil, err
	}
	var out []*MedicationView
	for _, v := range all {
		if v.Level != StockSufficient {
			out = append(out, v)
		}
	}
	return out, nil
}

// Thresholds returns the stock classification boundaries in use.
func (s *Session) Thresholds() StockThresholds {
	return s.thresholds
}

// Seed adds catalog entries whose ids are not present yet and returns how
// many were added. Existing entries, including their stock, are left alone.
func (s *Session) Seed(ctx context.Context, catalog []*Medication) (int, error) {
	var added []*Medication
	err := s.c.commit(ctx, func(snap *Snapshot) (*changeSet, error) {
		cs := &changeSet{}
		for _, m := range catalog {
			if _, ok := snap.Medications[m.ID]; ok {
				continue
			}
			if m.Stock < 0 || m.Stock > MaxStock || m.Price.IsNegative() {
				return nil, fmt.Errorf("%w: medication %s needs stock in [0, %d] and a non-negative price", ErrInvalidQuantity, m.ID, MaxStock)
			}
			cs.medications = append(cs.medications, m.clone())
		}
		added = cs.medications
		return cs, nil
	})
	if err != nil {
		return 0, err
	}
	if len(added) > 0 {
		s.observeStock(added...)
		s.logger.Info().Int("medications", len(added)).Msg("catalog seeded")
	}
	return len(added), nil
}

// Prescribers lists the clinician directory ordered by id. It is empty when
// no directory is configured.
func (s *Session) Prescribers() []*Prescriber {
	out := make([]*Prescriber, 0, len(s.prescribers))
	for _, p := range s.prescribers {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) view(m *Medication) *MedicationView {
	return &MedicationView{Medication: m, Level: ClassifyStock(m.Stock, s.thresholds)}
}

func (s *Session) observeStock(meds ...*Medication) {
	for _, m := range meds {
		metrics.MedicationStock.WithLabelValues(m.ID).Set(float64(m.Stock))
	}
}

func (s *Session) reject(action string, err error) error {
	reason := rejectionReason(err)
	metrics.WorkflowRejections.WithLabelValues(action, reason).Inc()
	evt := s.logger.Warn()
	if reason == "store_unavailable" {
		evt = s.logger.Error()
	}
	evt.Err(err).Str("action", action).Str("reason", reason).Msg("action rejected")
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrEmptyPrescription):
		return "empty_prescription"
	case errors.Is(err, ErrAlreadyDispensed):
		return "already_dispensed"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrUnknownMedication):
		return "unknown_medication"
	case errors.Is(err, ErrUnknownPatient):
		return "unknown_patient"
	case errors.Is(err, ErrUnknownPrescriber):
		return "unknown_prescriber"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidPatient):
		return "invalid_patient"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	default:
		return "other"
	}
}
