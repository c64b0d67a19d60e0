package ml

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// syntheticInventory builds a deterministic lot where price depends on year,
// mileage and model, so every regressor has signal to find.
func syntheticInventory(n int) []domain.Vehicle {
	models := []string{"Q3", "Q5", "Q7", "A4"}
	basePrice := map[string]int64{"Q3": 35000, "Q5": 48000, "Q7": 65000, "A4": 40000}

	vehicles := make([]domain.Vehicle, 0, n)
	for i := 0; i < n; i++ {
		model := models[i%len(models)]
		year := 2018 + i%7
		mileage := int64(5000 + (i*3711)%140000)
		price := basePrice[model] +
			int64(year-2018)*1500 -
			mileage/20 +
			int64((i*37)%500)

		vehicles = append(vehicles, trainableVehicle(
			fmt.Sprintf("WA1%04dFY0N200000", i), model, price, mileage, year))
	}
	return vehicles
}

func TestTrainer_TrainSelectsAModel(t *testing.T) {
	trainer := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop())

	record, err := trainer.Train(syntheticInventory(60))
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Contains(t, CanonicalModelOrder, record.BestModel)
	assert.NotNil(t, record.Model())
	assert.Equal(t, FeatureList, record.FeatureNames)
	assert.NotEmpty(t, record.Encoders)
	assert.NotNil(t, record.Scaler)
	assert.Equal(t, 48, record.TrainingSamples)
	assert.Equal(t, 12, record.TestSamples)

	require.Len(t, record.MetricsByModel, 4)
	for name, m := range record.MetricsByModel {
		assert.Empty(t, m.Error, "model %s", name)
		assert.False(t, math.IsNaN(m.R2), "model %s", name)
		assert.Greater(t, m.R2, 0.0, "model %s should beat the mean on synthetic data", name)
	}

	assert.NotEmpty(t, record.FeatureImportance)
}

func TestTrainer_DeterministicAcrossRuns(t *testing.T) {
	vehicles := syntheticInventory(60)

	first, err := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop()).Train(vehicles)
	require.NoError(t, err)
	second, err := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop()).Train(vehicles)
	require.NoError(t, err)

	assert.Equal(t, first.BestModel, second.BestModel)
	assert.Equal(t, first.MetricsByModel, second.MetricsByModel,
		"same seed and data must reproduce identical metrics")
	assert.Equal(t, first.FeatureImportance, second.FeatureImportance)
}

func TestTrainer_ScalerFitOnTrainSplitOnly(t *testing.T) {
	vehicles := syntheticInventory(60)
	record, err := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop()).Train(vehicles)
	require.NoError(t, err)

	// Rebuild the matrix and the seed-42 partition the trainer used
	builder := NewFeatureBuilder()
	X, y, err := builder.Fit(vehicles)
	require.NoError(t, err)
	trainIdx, testIdx := splitIndices(len(X), testFraction, 42)

	XTrain, _ := subset(X, y, trainIdx)
	trainOnly := &StandardScaler{}
	require.NoError(t, trainOnly.Fit(XTrain))
	assert.Equal(t, trainOnly.Means, record.Scaler.Means,
		"persisted parameters come from the train split")
	assert.Equal(t, trainOnly.Scales, record.Scaler.Scales)

	XTest, _ := subset(X, y, testIdx)
	testOnly := &StandardScaler{}
	require.NoError(t, testOnly.Fit(XTest))
	assert.NotEqual(t, testOnly.Means, record.Scaler.Means,
		"test-split statistics must not appear in the persisted scaler")

	full := &StandardScaler{}
	require.NoError(t, full.Fit(X))
	assert.NotEqual(t, full.Means, record.Scaler.Means,
		"a full-dataset fit would mean held-out rows leaked into scaling")
}

func TestTrainer_InsufficientData(t *testing.T) {
	trainer := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop())

	record, err := trainer.Train(syntheticInventory(10))
	assert.Nil(t, record)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTrainingDataInsufficient))
}

func TestTrainer_UntrainableRecordsDontCount(t *testing.T) {
	trainer := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop())

	// 10 trainable + 30 without a price: still below threshold
	vehicles := syntheticInventory(10)
	for i := 0; i < 30; i++ {
		vehicles = append(vehicles, domain.Vehicle{VIN: fmt.Sprintf("X%d", i), Year: 2022})
	}

	_, err := trainer.Train(vehicles)
	assert.True(t, errors.Is(err, ErrTrainingDataInsufficient))
}

func TestSelectBest(t *testing.T) {
	t.Run("highest r2 wins", func(t *testing.T) {
		best, ok := selectBest(map[string]Metrics{
			ModelLinearRegression: {R2: 0.70, MAE: 900},
			ModelRandomForest:     {R2: 0.85, MAE: 1200},
			ModelGradientBoosting: {R2: 0.80, MAE: 700},
		})
		require.True(t, ok)
		assert.Equal(t, ModelRandomForest, best)
	})

	t.Run("r2 tie breaks to lower mae", func(t *testing.T) {
		best, ok := selectBest(map[string]Metrics{
			ModelRandomForest:     {R2: 0.85, MAE: 1200},
			ModelGradientBoosting: {R2: 0.85, MAE: 700},
		})
		require.True(t, ok)
		assert.Equal(t, ModelGradientBoosting, best)
	})

	t.Run("full tie breaks to canonical order", func(t *testing.T) {
		best, ok := selectBest(map[string]Metrics{
			ModelRandomForest:     {R2: 0.85, MAE: 700},
			ModelGradientBoosting: {R2: 0.85, MAE: 700},
		})
		require.True(t, ok)
		assert.Equal(t, ModelRandomForest, best)
	})

	t.Run("failed models are skipped", func(t *testing.T) {
		best, ok := selectBest(map[string]Metrics{
			ModelLinearRegression: {Error: "fit panic"},
			ModelRandomForest:     {R2: 0.60, MAE: 2000},
		})
		require.True(t, ok)
		assert.Equal(t, ModelRandomForest, best)
	})

	t.Run("all failed", func(t *testing.T) {
		_, ok := selectBest(map[string]Metrics{
			ModelLinearRegression: {Error: "fit panic"},
		})
		assert.False(t, ok)
	})
}

func TestRegressors_FitPredictFinite(t *testing.T) {
	builder := NewFeatureBuilder()
	X, y, err := builder.Fit(syntheticInventory(40))
	require.NoError(t, err)

	scaler := &StandardScaler{}
	require.NoError(t, scaler.Fit(X))
	scaled, err := scaler.Transform(X)
	require.NoError(t, err)

	regressors := []Regressor{
		NewLinearRegression(),
		NewRandomForest(42),
		NewGradientBoosting(42),
		NewRegularizedGradientBoosting(42),
	}
	for _, model := range regressors {
		require.NoError(t, model.Fit(scaled, y), model.Name())
		for i, row := range scaled {
			p := model.Predict(row)
			require.False(t, math.IsNaN(p) || math.IsInf(p, 0), "%s row %d", model.Name(), i)
		}

		importance := model.FeatureImportance(len(builder.Features))
		require.Len(t, importance, len(builder.Features), model.Name())
	}
}

func TestGradientBoosting_ImprovesOverBase(t *testing.T) {
	builder := NewFeatureBuilder()
	X, y, err := builder.Fit(syntheticInventory(40))
	require.NoError(t, err)

	scaler := &StandardScaler{}
	require.NoError(t, scaler.Fit(X))
	scaled, err := scaler.Transform(X)
	require.NoError(t, err)

	model := NewGradientBoosting(42)
	require.NoError(t, model.Fit(scaled, y))

	predicted := make([]float64, len(scaled))
	base := make([]float64, len(scaled))
	for i, row := range scaled {
		predicted[i] = model.Predict(row)
		base[i] = model.BasePrediction
	}

	assert.Less(t, meanAbsoluteError(predicted, y), meanAbsoluteError(base, y),
		"boosting must beat predicting the mean on its own training data")
}
