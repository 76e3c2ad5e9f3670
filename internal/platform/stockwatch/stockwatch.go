// Package stockwatch periodically classifies the medication catalog, exports
// per-level gauges and logs medications that need restocking.
package stockwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/clinic/his/internal/domain/clinic"
	"github.com/clinic/his/internal/platform/metrics"
)

// Catalog lists medications with their stock level.
type Catalog interface {
	ListMedications(ctx context.Context) ([]*clinic.MedicationView, error)
}

// Report is the outcome of one sweep.
type Report struct {
	Counts map[clinic.StockLevel]int
	Low    []*clinic.MedicationView
}

type Watcher struct {
	catalog   Catalog
	interval  time.Duration
	logger    zerolog.Logger
	scheduler *gocron.Scheduler
}

func New(catalog Catalog, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Watcher{
		catalog:   catalog,
		interval:  interval,
		logger:    logger.With().Str("component", "stockwatch").Logger(),
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start schedules the sweep; the first run happens immediately.
func (w *Watcher) Start() error {
	_, err := w.scheduler.Every(w.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Error().Err(err).Msg("stock sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stock sweep: %w", err)
	}
	w.scheduler.StartAsync()
	w.logger.Info().Dur("interval", w.interval).Msg("stock sweep scheduled")
	return nil
}

func (w *Watcher) Stop() {
	w.scheduler.Stop()
}

// Sweep classifies the catalog once.
func (w *Watcher) Sweep(ctx context.Context) (*Report, error) {
	meds, err := w.catalog.ListMedications(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{Counts: map[clinic.StockLevel]int{
		clinic.StockSufficient: 0,
		clinic.StockWarning:    0,
		clinic.StockShortage:   0,
	}}
	for _, m := range meds {
		r.Counts[m.Level]++
		metrics.MedicationStock.WithLabelValues(m.ID).Set(float64(m.Stock))
		if m.Level != clinic.StockSufficient {
			r.Low = append(r.Low, m)
		}
	}
	for level, n := range r.Counts {
		metrics.MedicationsByLevel.WithLabelValues(string(level)).Set(float64(n))
	}

	for _, m := range r.Low {
		evt := w.logger.Info()
		if m.Level == clinic.StockShortage {
			evt = w.logger.Warn()
		}
		evt.Str("medication_id", m.ID).
			Str("name", m.Name).
			Int("stock", m.Stock).
			Str("level", string(m.Level)).
			Msg("medication stock low")
	}
	return r, nil
}
