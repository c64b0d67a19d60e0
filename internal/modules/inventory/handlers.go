package inventory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
)

// VehiclePredictor is the slice of the predictor the vehicle endpoints need.
type VehiclePredictor interface {
	IsTrained() bool
	Predict(v domain.Vehicle) (int64, error)
}

// Handler handles vehicle HTTP requests
type Handler struct {
	vehicles  *VehicleRepository
	history   *HistoryRepository
	predictor VehiclePredictor
	log       zerolog.Logger
}

// NewHandler creates a new inventory handler
func NewHandler(vehicles *VehicleRepository, history *HistoryRepository, predictor VehiclePredictor, log zerolog.Logger) *Handler {
	return &Handler{
		vehicles:  vehicles,
		history:   history,
		predictor: predictor,
		log:       log.With().Str("handler", "inventory").Logger(),
	}
}

// RegisterRoutes mounts the vehicle routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/search", h.HandleSearch)
	r.Get("/stats", h.HandleStats)
	r.Get("/{vin}", h.HandleGet)
	r.Get("/{vin}/price-history", h.HandlePriceHistory)
	r.Get("/{vin}/predict", h.HandlePredict)
}

// HandleList handles GET / - full inventory, optionally including removed
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	includeRemoved := r.URL.Query().Get("include_removed") == "true"

	vehicles, err := h.vehicles.GetAll(includeRemoved)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list vehicles")
		http.Error(w, "Failed to retrieve vehicles", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"total":    len(vehicles),
		"vehicles": vehicles,
	})
}

// HandleSearch handles GET /search - filtered active inventory
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SearchFilter{
		Make:         q.Get("make"),
		Model:        q.Get("model"),
		FuelType:     q.Get("fuel_type"),
		Transmission: q.Get("transmission"),
	}

	var parseErr error
	filter.YearMin, parseErr = intParam(q.Get("year_min"), parseErr)
	filter.YearMax, parseErr = intParam(q.Get("year_max"), parseErr)
	priceMin, parseErr := intParam(q.Get("price_min"), parseErr)
	priceMax, parseErr := intParam(q.Get("price_max"), parseErr)
	if parseErr != nil {
		http.Error(w, "Invalid numeric filter", http.StatusBadRequest)
		return
	}
	filter.PriceMin = int64(priceMin)
	filter.PriceMax = int64(priceMax)

	vehicles, err := h.vehicles.Search(filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Vehicle search failed")
		http.Error(w, "Failed to search vehicles", http.StatusInternalServerError)
		return
	}

	applied := map[string]interface{}{}
	for key, value := range map[string]string{
		"make": filter.Make, "model": filter.Model,
		"fuel_type": filter.FuelType, "transmission": filter.Transmission,
	} {
		if value != "" {
			applied[key] = value
		}
	}
	for key, value := range map[string]int64{
		"year_min": int64(filter.YearMin), "year_max": int64(filter.YearMax),
		"price_min": filter.PriceMin, "price_max": filter.PriceMax,
	} {
		if value > 0 {
			applied[key] = value
		}
	}

	writeJSON(w, map[string]interface{}{
		"total":           len(vehicles),
		"filters_applied": applied,
		"vehicles":        vehicles,
	})
}

// HandleStats handles GET /stats - inventory aggregates
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.vehicles.Stats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute inventory stats")
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// HandleGet handles GET /{vin} - one vehicle
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.lookupVehicle(w, r)
	if !ok {
		return
	}
	writeJSON(w, vehicle)
}

// HandlePriceHistory handles GET /{vin}/price-history - field change log
func (h *Handler) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.lookupVehicle(w, r)
	if !ok {
		return
	}

	history, err := h.history.ListByVIN(vehicle.VIN)
	if err != nil {
		h.log.Error().Err(err).Str("vin", vehicle.VIN).Msg("Failed to load price history")
		http.Error(w, "Failed to retrieve price history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"vin":           vehicle.VIN,
		"title":         vehicle.Title,
		"current_price": vehicle.Price,
		"history":       history,
	})
}

// HandlePredict handles GET /{vin}/predict - on-demand price estimate
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.lookupVehicle(w, r)
	if !ok {
		return
	}
	if !h.predictor.IsTrained() {
		http.Error(w, "Model not trained yet. Run a sync first.", http.StatusServiceUnavailable)
		return
	}

	predicted, err := h.predictor.Predict(*vehicle)
	if err != nil {
		if errors.Is(err, ml.ErrPredictionUnavailable) {
			http.Error(w, "Unable to generate a prediction for this vehicle", http.StatusUnprocessableEntity)
			return
		}
		h.log.Error().Err(err).Str("vin", vehicle.VIN).Msg("Prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	var difference *int64
	if vehicle.Price != nil {
		d := *vehicle.Price - predicted
		difference = &d
	}

	writeJSON(w, map[string]interface{}{
		"vin":              vehicle.VIN,
		"title":            vehicle.Title,
		"actual_price":     vehicle.Price,
		"predicted_price":  predicted,
		"price_difference": difference,
	})
}

// lookupVehicle resolves {vin} or 404s. Returns ok=false once a response has
// been written.
func (h *Handler) lookupVehicle(w http.ResponseWriter, r *http.Request) (*domain.Vehicle, bool) {
	vin := chi.URLParam(r, "vin")

	vehicle, err := h.vehicles.GetByVIN(vin)
	if err != nil {
		h.log.Error().Err(err).Str("vin", vin).Msg("Vehicle lookup failed")
		http.Error(w, "Failed to retrieve vehicle", http.StatusInternalServerError)
		return nil, false
	}
	if vehicle == nil {
		http.Error(w, "Vehicle not found", http.StatusNotFound)
		return nil, false
	}
	return vehicle, true
}

func intParam(raw string, prior error) (int, error) {
	if prior != nil || raw == "" {
		return 0, prior
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid numeric parameter")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
