package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// ErrTrainingDataInsufficient means too few qualifying records were available;
// training is skipped and the prior model (if any) stays authoritative.
var ErrTrainingDataInsufficient = errors.New("insufficient training data")

const (
	testFraction = 0.2
	cvFolds      = 5
)

// TrainerConfig holds training parameters.
type TrainerConfig struct {
	MinSamples int   // Minimum qualifying records to proceed
	Seed       int64 // Drives the split, bootstrap and CV fold assignment
}

// Trainer fits the four candidate regressors, evaluates them, and selects the
// best one.
type Trainer struct {
	cfg TrainerConfig
	log zerolog.Logger
}

// NewTrainer creates a trainer.
func NewTrainer(cfg TrainerConfig, log zerolog.Logger) *Trainer {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	return &Trainer{
		cfg: cfg,
		log: log.With().Str("component", "trainer").Logger(),
	}
}

// modelSpec pairs a canonical name with a constructor so cross-validation can
// fit fresh instances per fold.
type modelSpec struct {
	name  string
	build func() Regressor
}

func (t *Trainer) modelSpecs() []modelSpec {
	seed := t.cfg.Seed
	return []modelSpec{
		{ModelLinearRegression, func() Regressor { return NewLinearRegression() }},
		{ModelRandomForest, func() Regressor { return NewRandomForest(seed) }},
		{ModelGradientBoosting, func() Regressor { return NewGradientBoosting(seed) }},
		{ModelRegularizedGradientBoosting, func() Regressor { return NewRegularizedGradientBoosting(seed) }},
	}
}

// Train runs the full training procedure over the active inventory and returns
// a new ModelRecord ready for persistence. The caller owns persisting it.
func (t *Trainer) Train(vehicles []domain.Vehicle) (*ModelRecord, error) {
	builder := NewFeatureBuilder()
	X, y, err := builder.Fit(vehicles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingDataInsufficient, err)
	}
	if len(X) < t.cfg.MinSamples {
		t.log.Warn().
			Int("samples", len(X)).
			Int("required", t.cfg.MinSamples).
			Msg("Training skipped, not enough qualifying records")
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrTrainingDataInsufficient, len(X), t.cfg.MinSamples)
	}

	trainIdx, testIdx := splitIndices(len(X), testFraction, t.cfg.Seed)
	XTrain, yTrain := subset(X, y, trainIdx)
	XTest, yTest := subset(X, y, testIdx)

	// Scaler statistics come from training rows only. Test rows and the full
	// matrix are transformed with the already-fitted parameters.
	scaler := &StandardScaler{}
	if err := scaler.Fit(XTrain); err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	XTrainScaled, err := scaler.Transform(XTrain)
	if err != nil {
		return nil, err
	}
	XTestScaled, err := scaler.Transform(XTest)
	if err != nil {
		return nil, err
	}
	XAllScaled, err := scaler.Transform(X)
	if err != nil {
		return nil, err
	}

	metricsByModel := make(map[string]Metrics, 4)
	fitted := make(map[string]Regressor, 4)

	for _, spec := range t.modelSpecs() {
		start := time.Now()
		model := spec.build()

		m, err := t.evaluate(model, XTrainScaled, yTrain, XTestScaled, yTest)
		if err != nil {
			t.log.Error().Err(err).Str("model", spec.name).Msg("Model training failed")
			metricsByModel[spec.name] = Metrics{Error: err.Error()}
			continue
		}

		cvMean, cvStd := t.crossValidate(spec, XAllScaled, y)
		m.CVR2Mean = cvMean
		m.CVR2Std = cvStd

		metricsByModel[spec.name] = m
		fitted[spec.name] = model

		t.log.Info().
			Str("model", spec.name).
			Float64("mae", m.MAE).
			Float64("rmse", m.RMSE).
			Float64("r2", m.R2).
			Float64("cv_r2_mean", m.CVR2Mean).
			Dur("elapsed", time.Since(start)).
			Msg("Model trained")
	}

	bestName, ok := selectBest(metricsByModel)
	if !ok {
		return nil, fmt.Errorf("all models failed to train")
	}

	record := &ModelRecord{
		TrainedAt:       time.Now().UTC(),
		BestModel:       bestName,
		FeatureNames:    builder.Features,
		Encoders:        builder.Encoders,
		Scaler:          scaler,
		MetricsByModel:  metricsByModel,
		TrainingSamples: len(trainIdx),
		TestSamples:     len(testIdx),
	}
	record.SetModel(fitted[bestName])
	record.FeatureImportance = importanceMap(fitted[bestName], builder.Features)

	t.log.Info().
		Str("best_model", bestName).
		Float64("r2", metricsByModel[bestName].R2).
		Int("training_samples", record.TrainingSamples).
		Int("test_samples", record.TestSamples).
		Msg("Training complete")

	return record, nil
}

// evaluate fits a model on the training rows and scores it on the held-out
// test rows. Panics from numerical instability are captured as the model's
// error rather than aborting its siblings.
func (t *Trainer) evaluate(model Regressor, XTrain [][]float64, yTrain []float64, XTest [][]float64, yTest []float64) (m Metrics, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("model fit panic: %v", p)
		}
	}()

	if err = model.Fit(XTrain, yTrain); err != nil {
		return m, err
	}

	predicted := make([]float64, len(XTest))
	for i, row := range XTest {
		predicted[i] = model.Predict(row)
	}

	m.MAE = meanAbsoluteError(predicted, yTest)
	m.RMSE = rootMeanSquaredError(predicted, yTest)
	m.R2 = rSquared(predicted, yTest)
	return m, nil
}

// crossValidate runs k-fold CV over the full scaled dataset with fresh model
// instances per fold. Fold assignment is seeded and shared across models so
// every model sees identical folds.
func (t *Trainer) crossValidate(spec modelSpec, X [][]float64, y []float64) (mean, std float64) {
	k := cvFolds
	if len(X) < k {
		k = len(X)
	}
	if k < 2 {
		return 0, 0
	}

	// Deterministic fold assignment
	order := rand.New(rand.NewSource(t.cfg.Seed + 1)).Perm(len(X))

	scores := make([]float64, 0, k)
	for fold := 0; fold < k; fold++ {
		var trainIdx, testIdx []int
		for pos, i := range order {
			if pos%k == fold {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}

		XTrain, yTrain := subset(X, y, trainIdx)
		XTest, yTest := subset(X, y, testIdx)

		score, err := t.foldScore(spec, XTrain, yTrain, XTest, yTest)
		if err != nil {
			t.log.Debug().Err(err).Str("model", spec.name).Int("fold", fold).Msg("CV fold failed")
			continue
		}
		scores = append(scores, score)
	}

	if len(scores) == 0 {
		return 0, 0
	}
	mean, stdDev := stat.MeanStdDev(scores, nil)
	if len(scores) < 2 {
		stdDev = 0
	}
	return mean, stdDev
}

func (t *Trainer) foldScore(spec modelSpec, XTrain [][]float64, yTrain []float64, XTest [][]float64, yTest []float64) (score float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fold fit panic: %v", p)
		}
	}()

	model := spec.build()
	if err = model.Fit(XTrain, yTrain); err != nil {
		return 0, err
	}
	predicted := make([]float64, len(XTest))
	for i, row := range XTest {
		predicted[i] = model.Predict(row)
	}
	return rSquared(predicted, yTest), nil
}

// selectBest picks the model with the highest test-set R² among models without
// an error; ties break to lower test MAE, then to the earlier position in the
// canonical order.
func selectBest(metricsByModel map[string]Metrics) (string, bool) {
	best := ""
	for _, name := range CanonicalModelOrder {
		m, ok := metricsByModel[name]
		if !ok || m.Error != "" {
			continue
		}
		if best == "" {
			best = name
			continue
		}
		current := metricsByModel[best]
		if m.R2 > current.R2 || (m.R2 == current.R2 && m.MAE < current.MAE) {
			best = name
		}
	}
	return best, best != ""
}

// splitIndices partitions [0,n) into train/test with a seeded shuffle.
func splitIndices(n int, testFrac float64, seed int64) (train, test []int) {
	order := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(float64(n) * testFrac)
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	test = append(test, order[:nTest]...)
	train = append(train, order[nTest:]...)
	return train, test
}

func subset(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	subX := make([][]float64, len(idx))
	subY := make([]float64, len(idx))
	for pos, i := range idx {
		subX[pos] = X[i]
		subY[pos] = y[i]
	}
	return subX, subY
}

func importanceMap(model Regressor, features []string) map[string]float64 {
	if model == nil {
		return map[string]float64{}
	}
	values := model.FeatureImportance(len(features))
	out := make(map[string]float64, len(features))
	for i, name := range features {
		out[name] = values[i]
	}
	return out
}
