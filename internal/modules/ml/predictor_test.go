package ml

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush8285/dealertrack/internal/domain"
	testdb "github.com/ayush8285/dealertrack/internal/testing"
)

// stubStore is an in-memory PredictionStore.
type stubStore struct {
	vehicles []domain.Vehicle
	updates  map[string][2]int64
}

func (s *stubStore) GetActive() ([]domain.Vehicle, error) {
	return s.vehicles, nil
}

func (s *stubStore) UpdatePrediction(vin string, predicted, difference int64) error {
	if s.updates == nil {
		s.updates = make(map[string][2]int64)
	}
	s.updates[vin] = [2]int64{predicted, difference}
	return nil
}

func trainedRecord(t *testing.T) *ModelRecord {
	t.Helper()
	trainer := NewTrainer(TrainerConfig{MinSamples: 20, Seed: 42}, zerolog.Nop())
	record, err := trainer.Train(syntheticInventory(60))
	require.NoError(t, err)
	return record
}

func TestModelRepository_SaveLoadRoundTrip(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	repo := NewModelRepository(db.Conn(), zerolog.Nop())
	record := trainedRecord(t)
	require.NoError(t, repo.Save(record))

	loaded, err := repo.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, record.BestModel, loaded.BestModel)
	assert.Equal(t, record.FeatureNames, loaded.FeatureNames)
	assert.Equal(t, record.Encoders, loaded.Encoders)
	assert.Equal(t, record.Scaler, loaded.Scaler)
	assert.Equal(t, record.MetricsByModel, loaded.MetricsByModel)
	assert.Equal(t, record.TrainedAt.Unix(), loaded.TrainedAt.Unix())
	require.NotNil(t, loaded.Model())

	// The restored model predicts identically
	sample := trainableVehicle("WA1ROUNDTRIP00001", "Q5", 48000, 42000, 2021)
	builder := RestoreFeatureBuilder(loaded.FeatureNames, loaded.Encoders)
	row, err := builder.Row(sample)
	require.NoError(t, err)
	scaled, err := loaded.Scaler.TransformRow(row)
	require.NoError(t, err)

	assert.InDelta(t, record.Model().Predict(scaled), loaded.Model().Predict(scaled), 1e-9)
}

func TestModelRepository_LoadEmpty(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	repo := NewModelRepository(db.Conn(), zerolog.Nop())
	record, err := repo.Load()
	require.NoError(t, err)
	assert.Nil(t, record, "no model yet is not an error")
}

func TestModelRepository_SaveReplacesCurrent(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	repo := NewModelRepository(db.Conn(), zerolog.Nop())

	first := trainedRecord(t)
	require.NoError(t, repo.Save(first))

	second := trainedRecord(t)
	second.BestModel = ModelLinearRegression
	second.SetModel(NewLinearRegression())
	require.NoError(t, second.Model().Fit([][]float64{{1}, {2}, {3}}, []float64{10, 20, 30}))
	// FeatureNames mismatch is fine here; only replacement semantics matter
	require.NoError(t, repo.Save(second))

	loaded, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, ModelLinearRegression, loaded.BestModel, "exactly one current record")
}

func TestPredictor_NoModel(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	predictor := NewPredictor(NewModelRepository(db.Conn(), zerolog.Nop()), &stubStore{}, zerolog.Nop())
	require.NoError(t, predictor.LoadFromStore())

	assert.False(t, predictor.IsTrained())

	_, err := predictor.Predict(trainableVehicle("WA1NOMODEL0000001", "Q5", 48000, 42000, 2021))
	assert.True(t, errors.Is(err, ErrPredictionUnavailable))

	_, err = predictor.RefreshPredictions()
	assert.True(t, errors.Is(err, ErrPredictionUnavailable))

	summary := predictor.Summary()
	assert.False(t, summary.IsTrained)
}

func TestPredictor_SurvivesRestart(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	repo := NewModelRepository(db.Conn(), zerolog.Nop())
	store := &stubStore{}

	predictor := NewPredictor(repo, store, zerolog.Nop())
	require.NoError(t, predictor.Install(trainedRecord(t)))
	require.True(t, predictor.IsTrained())

	// A fresh predictor over the same store picks the model back up
	restarted := NewPredictor(repo, store, zerolog.Nop())
	require.NoError(t, restarted.LoadFromStore())
	assert.True(t, restarted.IsTrained())

	sample := trainableVehicle("WA1RESTART0000001", "Q3", 36000, 55000, 2020)
	before, err := predictor.Predict(sample)
	require.NoError(t, err)
	after, err := restarted.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPredictor_UnseenCategoryStillPredicts(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	predictor := NewPredictor(NewModelRepository(db.Conn(), zerolog.Nop()), &stubStore{}, zerolog.Nop())
	require.NoError(t, predictor.Install(trainedRecord(t)))

	unseen := trainableVehicle("WA1UNSEEN00000001", "RS6", 120000, 8000, 2024)
	unseen.FuelType = "Hybride" // also unseen

	predicted, err := predictor.Predict(unseen)
	require.NoError(t, err, "unseen categories fall back to the unknown code")
	assert.Greater(t, predicted, int64(0))
}

func TestPredictor_RefreshPredictions(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	priced := trainableVehicle("WA1PRICED00000001", "Q5", 48000, 42000, 2021)
	unpriceable := domain.Vehicle{VIN: "WA1BROKEN00000001", Year: 2021} // no mileage

	store := &stubStore{vehicles: []domain.Vehicle{priced, unpriceable}}
	predictor := NewPredictor(NewModelRepository(db.Conn(), zerolog.Nop()), store, zerolog.Nop())
	require.NoError(t, predictor.Install(trainedRecord(t)))

	updated, err := predictor.RefreshPredictions()
	require.NoError(t, err)
	assert.Equal(t, 1, updated, "unpredictable records are skipped, not fatal")

	result, ok := store.updates["WA1PRICED00000001"]
	require.True(t, ok)
	predicted, difference := result[0], result[1]
	assert.Equal(t, *priced.Price-predicted, difference, "difference is price minus predicted")

	_, touched := store.updates["WA1BROKEN00000001"]
	assert.False(t, touched)
}

func TestPredictor_InstallFailureKeepsPrior(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "inventory")
	defer cleanup()

	repo := NewModelRepository(db.Conn(), zerolog.Nop())
	predictor := NewPredictor(repo, &stubStore{}, zerolog.Nop())

	first := trainedRecord(t)
	require.NoError(t, predictor.Install(first))

	// Closing the connection makes the next persist fail
	require.NoError(t, db.Close())

	err := predictor.Install(trainedRecord(t))
	require.Error(t, err)
	assert.Same(t, first, predictor.Current(), "failed persist must keep the prior model serving")
}
