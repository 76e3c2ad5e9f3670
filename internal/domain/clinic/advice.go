package clinic

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/clinic/his/internal/platform/advisor"
)

// Advisor produces non-binding clinical suggestions. It is never consulted
// on a write path.
type Advisor interface {
	Suggest(ctx context.Context, symptoms string) (*advisor.Suggestion, error)
	Summarize(ctx context.Context, rec advisor.PatientRecord) (string, error)
}

// Advice is a suggestion with its medications matched against the catalog.
// Available is false when no advisor is configured or it failed.
type Advice struct {
	Available   bool                  `json:"available"`
	Diagnosis   string                `json:"diagnosis,omitempty"`
	Analysis    string                `json:"analysis,omitempty"`
	Medications []SuggestedMedication `json:"medications,omitempty"`
}

type SuggestedMedication struct {
	Name         string `json:"name"`
	MedicationID string `json:"medication_id,omitempty"`
	InCatalog    bool   `json:"in_catalog"`
	Stock        int    `json:"stock,omitempty"`
}

// Suggest asks the advisor about symptoms. Advisor failures degrade to an
// unavailable Advice; only a store failure is returned as an error.
func (s *Session) Suggest(ctx context.Context, symptoms string) (*Advice, error) {
	symptoms = strings.TrimSpace(symptoms)
	if s.advisor == nil || symptoms == "" {
		return &Advice{}, nil
	}

	sug, err := s.advisor.Suggest(ctx, symptoms)
	if err != nil {
		s.logger.Warn().Err(err).Msg("advisor suggestion failed")
		return &Advice{}, nil
	}

	snap, err := s.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	catalog := snap.MedicationList()

	out := &Advice{Available: true, Diagnosis: sug.Diagnosis, Analysis: sug.Analysis}
	for _, name := range sug.Medications {
		sm := SuggestedMedication{Name: name}
		if m := matchMedication(catalog, name); m != nil {
			sm.MedicationID = m.ID
			sm.InCatalog = true
			sm.Stock = m.Stock
		}
		out.Medications = append(out.Medications, sm)
	}
	return out, nil
}

// Summarize returns a short narrative of the patient's record. The boolean
// is false when no summary could be produced.
func (s *Session) Summarize(ctx context.Context, patientID string) (string, bool, error) {
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return "", false, err
	}
	if s.advisor == nil {
		return "", false, nil
	}

	summary, err := s.advisor.Summarize(ctx, advisor.PatientRecord{
		Name:      p.Name,
		Age:       p.Age,
		Gender:    string(p.Gender),
		Symptoms:  p.Symptoms,
		Diagnosis: p.Diagnosis,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("advisor summary failed")
		return "", false, nil
	}
	return summary, summary != "", nil
}

// matchMedication finds the catalog entry a free-text name refers to: an
// exact match after folding wins, then the first entry whose name contains
// the suggestion or is contained by it.
func matchMedication(catalog []*Medication, name string) *Medication {
	want := foldName(name)
	if want == "" {
		return nil
	}
	for _, m := range catalog {
		if foldName(m.Name) == want {
			return m
		}
	}
	for _, m := range catalog {
		got := foldName(m.Name)
		if got == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return m
		}
	}
	return nil
}

// foldName folds width and case so "ＶｉｔａｍｉｎＣ" and "vitaminc" compare
// equal.
func foldName(s string) string {
	s = width.Fold.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
