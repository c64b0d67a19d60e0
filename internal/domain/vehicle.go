// Package domain provides core domain models and types.
package domain

import "time"

// VehicleStatus represents the lifecycle state of a listed vehicle
type VehicleStatus string

const (
	// StatusActive means the vehicle is currently believed to be listed for sale
	StatusActive VehicleStatus = "active"
	// StatusRemoved means the vehicle disappeared from a scraped snapshot
	StatusRemoved VehicleStatus = "removed"
)

// SyncSource identifies what triggered a reconciliation run
type SyncSource string

const (
	SourceManual    SyncSource = "manual"
	SourceScheduled SyncSource = "scheduled"
)

// Listing is one freshly scraped inventory entry, before reconciliation.
// VIN is the natural key; records without one are dropped as scrape noise.
type Listing struct {
	VIN           string `json:"vin"`
	Title         string `json:"title"`
	Price         *int64 `json:"price"`
	Mileage       *int64 `json:"mileage"`
	Year          int    `json:"year"`
	Make          string `json:"make"`
	Model         string `json:"model"`
	Trim          string `json:"trim"`
	FuelType      string `json:"fuel_type"`
	Transmission  string `json:"transmission"`
	Drivetrain    string `json:"drivetrain"`
	BodyStyle     string `json:"body_style"`
	Engine        string `json:"engine"`
	ExteriorColor string `json:"exterior_color"`
	InteriorColor string `json:"interior_color"`
	ListingURL    string `json:"listing_url"`
}

// Snapshot is one scrape's full set of currently-listed vehicles, plus whether
// the scrape itself succeeded. ScrapeOK=false means the snapshot is unusable and
// reconciliation must not treat absence as removal.
type Snapshot struct {
	Listings []Listing `json:"listings"`
	ScrapeOK bool      `json:"scrape_ok"`
}

// Vehicle is one stored listing, identified by VIN.
type Vehicle struct {
	VIN             string        `json:"vin"`
	Title           string        `json:"title"`
	Price           *int64        `json:"price"`
	Mileage         *int64        `json:"mileage"`
	Year            int           `json:"year"`
	Make            string        `json:"make"`
	Model           string        `json:"model"`
	Trim            string        `json:"trim"`
	FuelType        string        `json:"fuel_type"`
	Transmission    string        `json:"transmission"`
	Drivetrain      string        `json:"drivetrain"`
	BodyStyle       string        `json:"body_style"`
	Engine          string        `json:"engine"`
	ExteriorColor   string        `json:"exterior_color"`
	InteriorColor   string        `json:"interior_color"`
	ListingURL      string        `json:"listing_url"`
	Status          VehicleStatus `json:"status"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	LastChanged     time.Time     `json:"last_changed"`
	PredictedPrice  *int64        `json:"predicted_price"`
	PriceDifference *int64        `json:"price_difference"`
}

// FromListing builds a fresh active Vehicle from a scraped listing.
func FromListing(l Listing, now time.Time) Vehicle {
	return Vehicle{
		VIN:           l.VIN,
		Title:         l.Title,
		Price:         l.Price,
		Mileage:       l.Mileage,
		Year:          l.Year,
		Make:          l.Make,
		Model:         l.Model,
		Trim:          l.Trim,
		FuelType:      l.FuelType,
		Transmission:  l.Transmission,
		Drivetrain:    l.Drivetrain,
		BodyStyle:     l.BodyStyle,
		Engine:        l.Engine,
		ExteriorColor: l.ExteriorColor,
		InteriorColor: l.InteriorColor,
		ListingURL:    l.ListingURL,
		Status:        StatusActive,
		FirstSeen:     now,
		LastSeen:      now,
		LastChanged:   now,
	}
}

// HistoryEntry is one append-only field-change record owned by a vehicle.
// Never mutated or deleted.
type HistoryEntry struct {
	VIN       string    `json:"vin"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
}

// FieldChange captures one field's old and new value inside a sync detail.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// VehicleRef names a vehicle inside a sync detail list.
type VehicleRef struct {
	VIN   string `json:"vin"`
	Title string `json:"title"`
}

// UpdateDetail describes one updated vehicle and exactly which fields changed.
type UpdateDetail struct {
	VIN    string                 `json:"vin"`
	Title  string                 `json:"title"`
	Fields map[string]FieldChange `json:"fields"`
}

// SyncStatus is the outcome of a reconciliation run
type SyncStatus string

const (
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncCounts holds the add/update/remove/unchanged partition sizes.
type SyncCounts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// SyncResult summarizes one reconciliation run. Immutable once created and
// appended to the bounded sync history.
type SyncResult struct {
	RunID        string         `json:"run_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       SyncSource     `json:"source"`
	Status       SyncStatus     `json:"status"`
	Error        string         `json:"error,omitempty"`
	TotalScraped int            `json:"total_scraped"`
	Counts       SyncCounts     `json:"counts"`
	TotalActive  int            `json:"total_active"`
	AddedDetails []VehicleRef   `json:"added_details"`
	RemovedList  []VehicleRef   `json:"removed_details"`
	UpdatedList  []UpdateDetail `json:"updated_details"`
}
