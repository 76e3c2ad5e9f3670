package clinic

import (
	"context"
	"errors"
	"testing"

	"github.com/clinic/his/internal/platform/advisor"
)

type fakeAdvisor struct {
	suggestion *advisor.Suggestion
	summary    string
	err        error
	lastRecord advisor.PatientRecord
}

func (f *fakeAdvisor) Suggest(ctx context.Context, symptoms string) (*advisor.Suggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestion, nil
}

func (f *fakeAdvisor) Summarize(ctx context.Context, rec advisor.PatientRecord) (string, error) {
	f.lastRecord = rec
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func TestSession_Suggest_MatchesCatalog(t *testing.T) {
	adv := &fakeAdvisor{suggestion: &advisor.Suggestion{
		Diagnosis:   "bacterial infection",
		Analysis:    "fever with sore throat",
		Medications: []string{"ＡＭＯＸＩＣＩＬＬＩＮ", "ibuprofen sustained release", "Vitamin C"},
	}}
	s, _ := newTestSession(t, WithAdvisor(adv))

	advice, err := s.Suggest(context.Background(), "fever, sore throat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !advice.Available || advice.Diagnosis != "bacterial infection" {
		t.Fatalf("unexpected advice %+v", advice)
	}
	if len(advice.Medications) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(advice.Medications))
	}

	amox := advice.Medications[0]
	if !amox.InCatalog || amox.MedicationID != "M1" || amox.Stock != 10 {
		t.Errorf("expected full-width name matched to M1, got %+v", amox)
	}
	ibu := advice.Medications[1]
	if !ibu.InCatalog || ibu.MedicationID != "M2" {
		t.Errorf("expected containing name matched to M2, got %+v", ibu)
	}
	if advice.Medications[2].InCatalog {
		t.Errorf("expected Vitamin C unmatched, got %+v", advice.Medications[2])
	}
}

func TestSession_Suggest_Degrades(t *testing.T) {
	s, _ := newTestSession(t)
	advice, err := s.Suggest(context.Background(), "headache")
	if err != nil || advice.Available {
		t.Errorf("expected unavailable advice without advisor, got %+v %v", advice, err)
	}

	s, store := newTestSession(t, WithAdvisor(&fakeAdvisor{err: errors.New("upstream 503")}))
	advice, err = s.Suggest(context.Background(), "headache")
	if err != nil || advice.Available {
		t.Errorf("expected unavailable advice on advisor error, got %+v %v", advice, err)
	}
	if n := len(mustSnapshot(t, store).Prescriptions); n != 0 {
		t.Error("advice must not write")
	}
}

func TestSession_Summarize(t *testing.T) {
	adv := &fakeAdvisor{summary: "34 year old male, waiting."}
	s, _ := newTestSession(t, WithAdvisor(adv))
	ctx := context.Background()

	summary, ok, err := s.Summarize(ctx, "P001")
	if err != nil || !ok || summary != adv.summary {
		t.Fatalf("unexpected summary %q %v %v", summary, ok, err)
	}
	if adv.lastRecord.Name != "张三" || adv.lastRecord.Gender != "male" {
		t.Errorf("unexpected record %+v", adv.lastRecord)
	}

	if _, _, err := s.Summarize(ctx, "P404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	adv.err = errors.New("timeout")
	if _, ok, err := s.Summarize(ctx, "P001"); ok || err != nil {
		t.Errorf("expected no summary on advisor error, got %v %v", ok, err)
	}
}

func TestMatchMedication(t *testing.T) {
	catalog := []*Medication{
		{ID: "M001", Name: "阿莫西林胶囊"},
		{ID: "M002", Name: "布洛芬缓释胶囊"},
		{ID: "MX", Name: ""},
	}
	tests := []struct {
		name string
		want string
	}{
		{"阿莫西林胶囊", "M001"},
		{"阿莫西林", "M001"},
		{" 布洛芬缓释胶囊 ", "M002"},
		{"连花清瘟", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := matchMedication(catalog, tt.name)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("%q: expected no match, got %s", tt.name, got.ID)
		case tt.want != "" && (got == nil || got.ID != tt.want):
			t.Errorf("%q: expected %s, got %v", tt.name, tt.want, got)
		}
	}
}
