package ml

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Canonical model names. CanonicalModelOrder is also the tie-break order during
// best-model selection.
const (
	ModelLinearRegression            = "linear_regression"
	ModelRandomForest                = "random_forest"
	ModelGradientBoosting            = "gradient_boosting"
	ModelRegularizedGradientBoosting = "regularized_gradient_boosting"
)

// CanonicalModelOrder fixes the declaration order of the trained models.
var CanonicalModelOrder = []string{
	ModelLinearRegression,
	ModelRandomForest,
	ModelGradientBoosting,
	ModelRegularizedGradientBoosting,
}

// ModelRecord is one persisted training outcome: the selected model's fitted
// parameters plus everything needed to reproduce its feature transformation.
// Exactly one current record exists; it is replaced wholesale on each
// successful training run.
type ModelRecord struct {
	TrainedAt         time.Time               `json:"trained_at"`
	BestModel         string                  `json:"best_model"`
	FeatureNames      []string                `json:"feature_list"`
	Encoders          map[string]LabelEncoder `json:"encoders"`
	Scaler            *StandardScaler         `json:"scaler"`
	MetricsByModel    map[string]Metrics      `json:"metrics_by_model"`
	FeatureImportance map[string]float64      `json:"feature_importance"`
	TrainingSamples   int                     `json:"training_samples"`
	TestSamples       int                     `json:"test_samples"`

	// model is the fitted best regressor; serialized separately as the
	// msgpack parameters blob, not part of the JSON document.
	model Regressor
}

// Model returns the fitted best regressor.
func (r *ModelRecord) Model() Regressor {
	return r.model
}

// SetModel attaches a fitted regressor to the record.
func (r *ModelRecord) SetModel(m Regressor) {
	r.model = m
}

// modelEnvelope wraps the concrete model type for parameter serialization.
type modelEnvelope struct {
	Name     string            `msgpack:"name"`
	Linear   *LinearRegression `msgpack:"linear,omitempty"`
	Forest   *RandomForest     `msgpack:"forest,omitempty"`
	Boosting *GradientBoosting `msgpack:"boosting,omitempty"`
}

// EncodeParams serializes the fitted best model's parameters.
func (r *ModelRecord) EncodeParams() ([]byte, error) {
	if r.model == nil {
		return nil, fmt.Errorf("model record has no fitted model")
	}

	env := modelEnvelope{Name: r.model.Name()}
	switch m := r.model.(type) {
	case *LinearRegression:
		env.Linear = m
	case *RandomForest:
		env.Forest = m
	case *GradientBoosting:
		env.Boosting = m
	default:
		return nil, fmt.Errorf("unknown model type %T", r.model)
	}

	blob, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model parameters: %w", err)
	}
	return blob, nil
}

// DecodeParams restores the fitted model from a parameters blob.
func (r *ModelRecord) DecodeParams(blob []byte) error {
	var env modelEnvelope
	if err := msgpack.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("failed to unmarshal model parameters: %w", err)
	}

	switch {
	case env.Linear != nil:
		r.model = env.Linear
	case env.Forest != nil:
		r.model = env.Forest
	case env.Boosting != nil:
		r.model = env.Boosting
	default:
		return fmt.Errorf("model parameters blob holds no model (name=%s)", env.Name)
	}
	return nil
}
