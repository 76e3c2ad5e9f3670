package stockwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/his/internal/domain/clinic"
)

type fakeCatalog struct {
	meds []*clinic.MedicationView
	err  error
}

func (f *fakeCatalog) ListMedications(ctx context.Context) ([]*clinic.MedicationView, error) {
	return f.meds, f.err
}

func view(id string, stock int) *clinic.MedicationView {
	return &clinic.MedicationView{
		Medication: &clinic.Medication{ID: id, Name: id, Stock: stock},
		Level:      clinic.ClassifyStock(stock, clinic.DefaultStockThresholds()),
	}
}

func TestSweep(t *testing.T) {
	cat := &fakeCatalog{meds: []*clinic.MedicationView{
		view("M001", 500),
		view("M002", 45),
		view("M003", 100),
		view("M004", 12),
	}}
	w := New(cat, time.Minute, zerolog.Nop())

	r, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if r.Counts[clinic.StockSufficient] != 1 {
		t.Errorf("expected 1 sufficient, got %d", r.Counts[clinic.StockSufficient])
	}
	if r.Counts[clinic.StockWarning] != 1 {
		t.Errorf("expected 1 warning, got %d", r.Counts[clinic.StockWarning])
	}
	if r.Counts[clinic.StockShortage] != 2 {
		t.Errorf("expected 2 shortage, got %d", r.Counts[clinic.StockShortage])
	}
	if len(r.Low) != 3 {
		t.Fatalf("expected 3 low medications, got %d", len(r.Low))
	}
}

func TestSweep_CatalogError(t *testing.T) {
	w := New(&fakeCatalog{err: errors.New("store down")}, time.Minute, zerolog.Nop())
	if _, err := w.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	w := New(&fakeCatalog{}, 0, zerolog.Nop())
	if w.interval != 15*time.Minute {
		t.Errorf("expected default interval 15m, got %s", w.interval)
	}
}

func TestStartStop(t *testing.T) {
	w := New(&fakeCatalog{}, time.Hour, zerolog.Nop())
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	w.Stop()
}
