package ml

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles model HTTP requests
type Handler struct {
	predictor *Predictor
	vehicles  PredictionStore
	log       zerolog.Logger
}

// NewHandler creates a new ML handler
func NewHandler(predictor *Predictor, vehicles PredictionStore, log zerolog.Logger) *Handler {
	return &Handler{
		predictor: predictor,
		vehicles:  vehicles,
		log:       log.With().Str("handler", "ml").Logger(),
	}
}

// RegisterRoutes mounts the model routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/summary", h.HandleSummary)
	r.Get("/predictions", h.HandlePredictions)
}

// HandleSummary handles GET /summary - current model metrics and metadata
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.predictor.Summary())
}

// predictionRow is one entry in the predictions listing.
type predictionRow struct {
	VIN             string `json:"vin"`
	Title           string `json:"title"`
	ActualPrice     *int64 `json:"actual_price"`
	PredictedPrice  int64  `json:"predicted_price"`
	PriceDifference *int64 `json:"price_difference"`
}

// HandlePredictions handles GET /predictions - estimates for the full active
// inventory. Vehicles the model cannot score are omitted.
func (h *Handler) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	record := h.predictor.Current()
	if record == nil {
		http.Error(w, "Model not trained yet", http.StatusServiceUnavailable)
		return
	}

	active, err := h.vehicles.GetActive()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load active vehicles")
		http.Error(w, "Failed to retrieve predictions", http.StatusInternalServerError)
		return
	}

	rows := make([]predictionRow, 0, len(active))
	for _, v := range active {
		predicted, err := h.predictor.Predict(v)
		if err != nil {
			continue
		}
		row := predictionRow{
			VIN:            v.VIN,
			Title:          v.Title,
			ActualPrice:    v.Price,
			PredictedPrice: predicted,
		}
		if v.Price != nil {
			d := *v.Price - predicted
			row.PriceDifference = &d
		}
		rows = append(rows, row)
	}

	writeJSON(w, map[string]interface{}{
		"model_used":        record.BestModel,
		"total_predictions": len(rows),
		"predictions":       rows,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
