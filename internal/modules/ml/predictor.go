package ml

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// ErrPredictionUnavailable means no trained model exists yet, or the record
// lacks the fields needed to derive its features.
var ErrPredictionUnavailable = errors.New("prediction unavailable")

// PredictionStore is the vehicle-store surface the prediction refresh writes to.
type PredictionStore interface {
	GetActive() ([]domain.Vehicle, error)
	UpdatePrediction(vin string, predicted, difference int64) error
}

// Predictor holds the current ModelRecord behind a read lock and applies it to
// individual records. The record reference is the only in-process model state;
// replacement is atomic.
type Predictor struct {
	mu       sync.RWMutex
	record   *ModelRecord
	modelDB  *ModelRepository
	vehicles PredictionStore
	log      zerolog.Logger
}

// NewPredictor creates a predictor.
func NewPredictor(modelDB *ModelRepository, vehicles PredictionStore, log zerolog.Logger) *Predictor {
	return &Predictor{
		modelDB:  modelDB,
		vehicles: vehicles,
		log:      log.With().Str("component", "predictor").Logger(),
	}
}

// LoadFromStore restores the persisted model so predictions survive restarts.
// Missing model state is not an error; predictions are simply unavailable.
func (p *Predictor) LoadFromStore() error {
	record, err := p.modelDB.Load()
	if err != nil {
		return err
	}
	if record == nil {
		p.log.Info().Msg("No saved model found, training required")
		return nil
	}

	p.mu.Lock()
	p.record = record
	p.mu.Unlock()

	p.log.Info().
		Str("best_model", record.BestModel).
		Time("trained_at", record.TrainedAt).
		Msg("Model loaded from store")
	return nil
}

// Install persists a freshly trained record and makes it current. The in-memory
// swap happens only after the store accepts the new record, so a persistence
// failure keeps the previous model serving predictions.
func (p *Predictor) Install(record *ModelRecord) error {
	if err := p.modelDB.Save(record); err != nil {
		return err
	}

	p.mu.Lock()
	p.record = record
	p.mu.Unlock()
	return nil
}

// Current returns the active model record, or nil when none is trained.
func (p *Predictor) Current() *ModelRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record
}

// IsTrained reports whether a model is available.
func (p *Predictor) IsTrained() bool {
	return p.Current() != nil
}

// Predict estimates one vehicle's price with the current model.
func (p *Predictor) Predict(v domain.Vehicle) (int64, error) {
	record := p.Current()
	if record == nil {
		return 0, fmt.Errorf("%w: no trained model", ErrPredictionUnavailable)
	}

	builder := RestoreFeatureBuilder(record.FeatureNames, record.Encoders)
	row, err := builder.Row(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPredictionUnavailable, err)
	}

	scaled, err := record.Scaler.TransformRow(row)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPredictionUnavailable, err)
	}

	predicted := record.Model().Predict(scaled)
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) {
		return 0, fmt.Errorf("%w: model produced a non-finite value", ErrPredictionUnavailable)
	}
	return int64(math.Round(predicted)), nil
}

// RefreshPredictions writes predicted_price and price_difference onto every
// active record. Records that cannot be predicted are skipped, not fatal.
// price_difference = price - predicted_price when both are present.
func (p *Predictor) RefreshPredictions() (updated int, err error) {
	if !p.IsTrained() {
		return 0, fmt.Errorf("%w: no trained model", ErrPredictionUnavailable)
	}

	active, err := p.vehicles.GetActive()
	if err != nil {
		return 0, fmt.Errorf("failed to load active vehicles: %w", err)
	}

	skipped := 0
	for _, v := range active {
		predicted, err := p.Predict(v)
		if err != nil {
			skipped++
			continue
		}

		var difference int64
		if v.Price != nil {
			difference = *v.Price - predicted
		}
		if err := p.vehicles.UpdatePrediction(v.VIN, predicted, difference); err != nil {
			return updated, err
		}
		updated++
	}

	p.log.Info().
		Int("updated", updated).
		Int("skipped", skipped).
		Msg("Prediction refresh complete")
	return updated, nil
}

// Summary describes the current model for the dashboard.
type Summary struct {
	IsTrained         bool               `json:"is_trained"`
	BestModel         string             `json:"best_model,omitempty"`
	TrainedAt         *time.Time         `json:"trained_at,omitempty"`
	Features          []string           `json:"feature_list,omitempty"`
	MetricsByModel    map[string]Metrics `json:"metrics_by_model,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	TrainingSamples   int                `json:"training_samples,omitempty"`
	TestSamples       int                `json:"test_samples,omitempty"`
}

// Summary returns the dashboard view of the current model.
func (p *Predictor) Summary() Summary {
	record := p.Current()
	if record == nil {
		return Summary{IsTrained: false}
	}
	trainedAt := record.TrainedAt
	return Summary{
		IsTrained:         true,
		BestModel:         record.BestModel,
		TrainedAt:         &trainedAt,
		Features:          record.FeatureNames,
		MetricsByModel:    record.MetricsByModel,
		FeatureImportance: record.FeatureImportance,
		TrainingSamples:   record.TrainingSamples,
		TestSamples:       record.TestSamples,
	}
}
