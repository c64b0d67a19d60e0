package inventory

import (
	"database/sql"
	"fmt"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// Range is a min/max pair for a numeric inventory dimension.
type Range struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Stats summarizes the active inventory for the dashboard.
type Stats struct {
	TotalActive  int            `json:"total_active"`
	TotalRemoved int            `json:"total_removed"`
	AvgPrice     int64          `json:"avg_price"`
	AvgMileage   int64          `json:"avg_mileage"`
	PriceRange   Range          `json:"price_range"`
	YearRange    Range          `json:"year_range"`
	Makes        map[string]int `json:"makes"`
	Models       map[string]int `json:"models"`
}

// Stats computes aggregate statistics over the active inventory.
func (r *VehicleRepository) Stats() (*Stats, error) {
	active, err := r.GetActive()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Makes:  make(map[string]int),
		Models: make(map[string]int),
	}

	var removed int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM vehicles WHERE status = ?", string(domain.StatusRemoved)).Scan(&removed); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to count removed vehicles: %w", err)
	}
	stats.TotalRemoved = removed
	stats.TotalActive = len(active)

	if len(active) == 0 {
		return stats, nil
	}

	var priceSum, priceCount, mileageSum, mileageCount int64
	for _, v := range active {
		if v.Price != nil && *v.Price > 0 {
			if priceCount == 0 || *v.Price < stats.PriceRange.Min {
				stats.PriceRange.Min = *v.Price
			}
			if *v.Price > stats.PriceRange.Max {
				stats.PriceRange.Max = *v.Price
			}
			priceSum += *v.Price
			priceCount++
		}
		if v.Mileage != nil && *v.Mileage > 0 {
			mileageSum += *v.Mileage
			mileageCount++
		}
		if v.Year > 0 {
			year := int64(v.Year)
			if stats.YearRange.Min == 0 || year < stats.YearRange.Min {
				stats.YearRange.Min = year
			}
			if year > stats.YearRange.Max {
				stats.YearRange.Max = year
			}
		}

		mk := v.Make
		if mk == "" {
			mk = "Unknown"
		}
		md := v.Model
		if md == "" {
			md = "Unknown"
		}
		stats.Makes[mk]++
		stats.Models[md]++
	}

	if priceCount > 0 {
		stats.AvgPrice = priceSum / priceCount
	}
	if mileageCount > 0 {
		stats.AvgMileage = mileageSum / mileageCount
	}

	return stats, nil
}
