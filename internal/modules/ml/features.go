// Package ml implements the price-prediction pipeline: feature engineering,
// multi-model training with cross-validated evaluation, best-model selection,
// and persistence of the selected model.
package ml

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// FeatureList fixes the order of the numeric feature vector. The persisted
// feature_list is the contract that makes encoder and scaler application
// unambiguous across process restarts.
var FeatureList = []string{
	"year",
	"mileage",
	"vehicle_age",
	"mileage_bin",
	"make_code",
	"model_code",
	"trim_code",
	"fuel_type_code",
	"transmission_code",
	"drivetrain_code",
	"body_style_code",
}

// mileageBinBounds are the fixed upper bounds of the mileage buckets; anything
// above the last bound lands in the final bucket. Configuration constants, not
// learned.
var mileageBinBounds = []int64{20000, 50000, 80000, 120000, 200000}

const (
	// UnknownCategory replaces blank categorical values before encoding
	UnknownCategory = "Unknown"
	// UnknownCode is the reserved code for categories unseen during training
	UnknownCode = -1
	// minListingYear excludes implausibly old records from training
	minListingYear = 2000
)

// LabelEncoder maps a categorical field's observed values to integer codes.
type LabelEncoder map[string]int

// fitLabelEncoder assigns codes 0..n-1 to the sorted unique values.
func fitLabelEncoder(values []string) LabelEncoder {
	unique := make(map[string]bool, len(values))
	for _, v := range values {
		unique[normalizeCategory(v)] = true
	}

	sorted := make([]string, 0, len(unique))
	for v := range unique {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	enc := make(LabelEncoder, len(sorted))
	for i, v := range sorted {
		enc[v] = i
	}
	return enc
}

// Code returns the category's code, or UnknownCode for categories never seen
// during training. Prediction must not fail on an unseen trim or fuel type.
func (e LabelEncoder) Code(value string) int {
	if code, ok := e[normalizeCategory(value)]; ok {
		return code
	}
	return UnknownCode
}

func normalizeCategory(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return UnknownCategory
	}
	return v
}

// categoricalValue extracts the named categorical field from a vehicle.
func categoricalValue(v domain.Vehicle, field string) string {
	switch field {
	case "make_code":
		return v.Make
	case "model_code":
		return v.Model
	case "trim_code":
		return v.Trim
	case "fuel_type_code":
		return v.FuelType
	case "transmission_code":
		return v.Transmission
	case "drivetrain_code":
		return v.Drivetrain
	case "body_style_code":
		return v.BodyStyle
	default:
		return ""
	}
}

// categoricalFeatures lists the encoded fields in FeatureList order.
var categoricalFeatures = []string{
	"make_code", "model_code", "trim_code", "fuel_type_code",
	"transmission_code", "drivetrain_code", "body_style_code",
}

// FeatureBuilder turns vehicle records into numeric feature rows. Encoders are
// built fresh from the training set each run; a builder reconstructed from a
// persisted ModelRecord applies the same mapping at prediction time.
type FeatureBuilder struct {
	Features []string                `json:"feature_list"`
	Encoders map[string]LabelEncoder `json:"encoders"`

	currentYear int
}

// NewFeatureBuilder creates an unfitted builder. The current year is computed
// at pipeline-run time, not frozen.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{
		Features:    FeatureList,
		currentYear: time.Now().UTC().Year(),
	}
}

// RestoreFeatureBuilder reconstructs a builder from persisted encoder state.
func RestoreFeatureBuilder(features []string, encoders map[string]LabelEncoder) *FeatureBuilder {
	return &FeatureBuilder{
		Features:    features,
		Encoders:    encoders,
		currentYear: time.Now().UTC().Year(),
	}
}

// Trainable reports whether a record qualifies for the training set: it needs a
// positive price and mileage and a plausible model year.
func Trainable(v domain.Vehicle) bool {
	return v.Price != nil && *v.Price > 0 &&
		v.Mileage != nil && *v.Mileage > 0 &&
		v.Year > minListingYear
}

// Fit filters the records to the trainable subset, fits fresh encoders from
// their observed categories, and returns the feature matrix and price target.
func (b *FeatureBuilder) Fit(vehicles []domain.Vehicle) (X [][]float64, y []float64, err error) {
	var training []domain.Vehicle
	for _, v := range vehicles {
		if Trainable(v) {
			training = append(training, v)
		}
	}
	if len(training) == 0 {
		return nil, nil, fmt.Errorf("no trainable records")
	}

	b.Encoders = make(map[string]LabelEncoder, len(categoricalFeatures))
	for _, field := range categoricalFeatures {
		values := make([]string, len(training))
		for i, v := range training {
			values[i] = categoricalValue(v, field)
		}
		b.Encoders[field] = fitLabelEncoder(values)
	}

	X = make([][]float64, len(training))
	y = make([]float64, len(training))
	for i, v := range training {
		row, err := b.Row(v)
		if err != nil {
			return nil, nil, err
		}
		X[i] = row
		y[i] = float64(*v.Price)
	}
	return X, y, nil
}

// Row derives one feature vector. It requires mileage and a model year; price
// is not needed because the derived price-per-km ratio embeds the target and is
// excluded from the matrix.
func (b *FeatureBuilder) Row(v domain.Vehicle) ([]float64, error) {
	if b.Encoders == nil {
		return nil, fmt.Errorf("feature builder is not fitted")
	}
	if v.Mileage == nil {
		return nil, fmt.Errorf("record %s has no mileage", v.VIN)
	}
	if v.Year <= 0 {
		return nil, fmt.Errorf("record %s has no model year", v.VIN)
	}

	row := make([]float64, 0, len(b.Features))
	for _, feature := range b.Features {
		switch feature {
		case "year":
			row = append(row, float64(v.Year))
		case "mileage":
			row = append(row, float64(*v.Mileage))
		case "vehicle_age":
			row = append(row, float64(b.currentYear-v.Year))
		case "mileage_bin":
			row = append(row, float64(MileageBin(*v.Mileage)))
		default:
			enc, ok := b.Encoders[feature]
			if !ok {
				return nil, fmt.Errorf("no encoder for feature %s", feature)
			}
			row = append(row, float64(enc.Code(categoricalValue(v, feature))))
		}
	}
	return row, nil
}

// MileageBin buckets mileage into the fixed-width bins 0..len(bounds).
func MileageBin(mileage int64) int {
	for i, bound := range mileageBinBounds {
		if mileage <= bound {
			return i
		}
	}
	return len(mileageBinBounds)
}

// PricePerKM derives the price/mileage ratio with the divisor clamped to a
// minimum of 1. The clamp affects only this derived value, never stored
// mileage, and guarantees a finite result for zero-mileage records.
func PricePerKM(price, mileage int64) float64 {
	if mileage < 1 {
		mileage = 1
	}
	return float64(price) / float64(mileage)
}
