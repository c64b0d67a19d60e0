package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush8285/dealertrack/internal/domain"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
)

// fakePredictor stubs the predictor surface the handlers use.
type fakePredictor struct {
	trained   bool
	predicted int64
	err       error
}

func (f *fakePredictor) IsTrained() bool { return f.trained }

func (f *fakePredictor) Predict(v domain.Vehicle) (int64, error) {
	return f.predicted, f.err
}

func setupHandler(t *testing.T, predictor VehiclePredictor) (*Handler, *VehicleRepository, func()) {
	t.Helper()
	vehicles, history, _, cleanup := setupRepos(t)
	h := NewHandler(vehicles, history, predictor, zerolog.Nop())
	return h, vehicles, cleanup
}

func serveRoutes(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHandleList(t *testing.T) {
	h, vehicles, cleanup := setupHandler(t, &fakePredictor{})
	defer cleanup()

	require.NoError(t, vehicles.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))
	removed := testVehicle("WA1BBBFY0N2000002", 38000)
	removed.Status = domain.StatusRemoved
	require.NoError(t, vehicles.Upsert(removed))

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total    int              `json:"total"`
		Vehicles []domain.Vehicle `json:"vehicles"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Total, "removed excluded by default")

	w = httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/?include_removed=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 2, body.Total)
}

func TestHandleGet_NotFound(t *testing.T) {
	h, _, cleanup := setupHandler(t, &fakePredictor{})
	defer cleanup()

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/WAUNOTTHERE000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSearch_InvalidParam(t *testing.T) {
	h, _, cleanup := setupHandler(t, &fakePredictor{})
	defer cleanup()

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/search?year_min=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePredict(t *testing.T) {
	h, vehicles, cleanup := setupHandler(t, &fakePredictor{trained: true, predicted: 43000})
	defer cleanup()

	require.NoError(t, vehicles.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/WA1AAAFY0N2000001/predict", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		VIN             string `json:"vin"`
		PredictedPrice  int64  `json:"predicted_price"`
		PriceDifference *int64 `json:"price_difference"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "WA1AAAFY0N2000001", body.VIN)
	assert.Equal(t, int64(43000), body.PredictedPrice)
	require.NotNil(t, body.PriceDifference)
	assert.Equal(t, int64(2000), *body.PriceDifference)
}

func TestHandlePredict_Untrained(t *testing.T) {
	h, vehicles, cleanup := setupHandler(t, &fakePredictor{trained: false})
	defer cleanup()

	require.NoError(t, vehicles.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/WA1AAAFY0N2000001/predict", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlePredict_Unpredictable(t *testing.T) {
	h, vehicles, cleanup := setupHandler(t, &fakePredictor{trained: true, err: ml.ErrPredictionUnavailable})
	defer cleanup()

	require.NoError(t, vehicles.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/WA1AAAFY0N2000001/predict", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandlePriceHistory(t *testing.T) {
	vehicles, history, _, cleanup := setupRepos(t)
	defer cleanup()
	h := NewHandler(vehicles, history, &fakePredictor{}, zerolog.Nop())

	v := testVehicle("WA1AAAFY0N2000001", 43500)
	require.NoError(t, vehicles.Upsert(v))
	require.NoError(t, history.Append([]domain.HistoryEntry{
		{VIN: v.VIN, Field: "price", OldValue: "45000", NewValue: "43500", Timestamp: v.LastChanged},
	}))

	w := httptest.NewRecorder()
	serveRoutes(h).ServeHTTP(w, httptest.NewRequest("GET", "/WA1AAAFY0N2000001/price-history", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		VIN          string                `json:"vin"`
		CurrentPrice *int64                `json:"current_price"`
		History      []domain.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "WA1AAAFY0N2000001", body.VIN)
	require.NotNil(t, body.CurrentPrice)
	assert.Equal(t, int64(43500), *body.CurrentPrice)
	require.Len(t, body.History, 1)
	assert.Equal(t, "43500", body.History[0].NewValue)
}
