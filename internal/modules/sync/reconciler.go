// Package sync implements the reconciliation engine: it diffs a freshly scraped
// inventory snapshot against stored state, classifies every VIN as added,
// updated, removed or unchanged, and maintains the field-change history.
package sync

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// VehicleStore is the record-store surface the reconciler mutates.
// ApplyChanges must commit the vehicle row and its journal entries atomically.
type VehicleStore interface {
	ActiveVINs() (map[string]bool, error)
	GetByVIN(vin string) (*domain.Vehicle, error)
	Upsert(v domain.Vehicle) error
	ApplyChanges(v domain.Vehicle, entries []domain.HistoryEntry) error
	MarkRemoved(vin string) error
	TouchLastSeen(vin string, seenAt time.Time) error
	CountActive() (int, error)
}

// SyncLogStore records one result per reconciliation run.
type SyncLogStore interface {
	Append(result domain.SyncResult) error
}

// Reconciler owns all vehicle mutation and history creation.
type Reconciler struct {
	vehicles VehicleStore
	syncLog  SyncLogStore
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a reconciler.
func New(vehicles VehicleStore, syncLog SyncLogStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		vehicles: vehicles,
		syncLog:  syncLog,
		log:      log.With().Str("component", "reconciler").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the reconciler's clock. Intended for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile applies one scraped snapshot to the store and records a SyncResult.
//
// A failed scrape (ScrapeOK=false) performs zero mutations: a site outage must
// not look like the whole inventory being withdrawn. The run is still recorded
// as a failed sync so it is visible in history.
//
// Mutations are atomic per VIN: an update commits its vehicle row and journal
// entries together. A crash mid-run leaves some VINs reconciled and others not,
// which the next run repairs from its own snapshot.
func (r *Reconciler) Reconcile(snapshot domain.Snapshot, source domain.SyncSource) (*domain.SyncResult, error) {
	now := r.now()
	result := &domain.SyncResult{
		RunID:        uuid.New().String(),
		Timestamp:    now,
		Source:       source,
		Status:       domain.SyncCompleted,
		AddedDetails: []domain.VehicleRef{},
		RemovedList:  []domain.VehicleRef{},
		UpdatedList:  []domain.UpdateDetail{},
	}

	if !snapshot.ScrapeOK {
		result.Status = domain.SyncFailed
		result.Error = "scrape failed: no usable snapshot"
		active, err := r.vehicles.CountActive()
		if err != nil {
			return nil, fmt.Errorf("failed to count active vehicles: %w", err)
		}
		result.TotalActive = active
		if err := r.syncLog.Append(*result); err != nil {
			return nil, fmt.Errorf("failed to record failed sync: %w", err)
		}
		r.log.Warn().Str("run_id", result.RunID).Msg("Scrape failed, reconciliation skipped")
		return result, nil
	}

	activeVINs, err := r.vehicles.ActiveVINs()
	if err != nil {
		return nil, fmt.Errorf("failed to load active VINs: %w", err)
	}

	result.TotalScraped = len(snapshot.Listings)

	seen := make(map[string]bool, len(snapshot.Listings))
	dropped := 0
	for _, listing := range snapshot.Listings {
		vin := strings.ToUpper(strings.TrimSpace(listing.VIN))
		if vin == "" {
			// Scrape noise, not an error
			dropped++
			continue
		}
		if seen[vin] {
			// Duplicate card within one snapshot; first occurrence wins
			continue
		}
		seen[vin] = true
		listing.VIN = vin

		if activeVINs[vin] {
			if err := r.reconcileSeen(listing, now, result); err != nil {
				return nil, err
			}
		} else {
			if err := r.reconcileNew(listing, now, result); err != nil {
				return nil, err
			}
		}
	}

	// Active VINs absent from the snapshot are no longer listed
	for vin := range activeVINs {
		if seen[vin] {
			continue
		}
		existing, err := r.vehicles.GetByVIN(vin)
		if err != nil {
			return nil, fmt.Errorf("failed to load vehicle %s: %w", vin, err)
		}
		if err := r.vehicles.MarkRemoved(vin); err != nil {
			return nil, err
		}
		result.Counts.Removed++
		ref := domain.VehicleRef{VIN: vin}
		if existing != nil {
			ref.Title = existing.Title
		}
		result.RemovedList = append(result.RemovedList, ref)
	}

	totalActive, err := r.vehicles.CountActive()
	if err != nil {
		return nil, fmt.Errorf("failed to count active vehicles: %w", err)
	}
	result.TotalActive = totalActive

	if err := r.syncLog.Append(*result); err != nil {
		return nil, fmt.Errorf("failed to record sync result: %w", err)
	}

	r.log.Info().
		Str("run_id", result.RunID).
		Int("total_scraped", result.TotalScraped).
		Int("dropped_no_vin", dropped).
		Int("added", result.Counts.Added).
		Int("updated", result.Counts.Updated).
		Int("removed", result.Counts.Removed).
		Int("unchanged", result.Counts.Unchanged).
		Int("total_active", result.TotalActive).
		Msg("Reconciliation complete")

	return result, nil
}

// reconcileNew inserts a listing whose VIN is not currently active. A VIN that
// previously existed as removed is reactivated in place: it counts as an add
// but keeps its first_seen and accumulated history.
func (r *Reconciler) reconcileNew(listing domain.Listing, now time.Time, result *domain.SyncResult) error {
	existing, err := r.vehicles.GetByVIN(listing.VIN)
	if err != nil {
		return fmt.Errorf("failed to load vehicle %s: %w", listing.VIN, err)
	}

	vehicle := domain.FromListing(listing, now)
	if existing != nil {
		// Reactivation: keep identity history, refresh everything else
		vehicle.FirstSeen = existing.FirstSeen
		vehicle.PredictedPrice = existing.PredictedPrice
		vehicle.PriceDifference = existing.PriceDifference
	}

	if err := r.vehicles.Upsert(vehicle); err != nil {
		return err
	}

	result.Counts.Added++
	result.AddedDetails = append(result.AddedDetails, domain.VehicleRef{VIN: listing.VIN, Title: listing.Title})
	r.log.Debug().Str("vin", listing.VIN).Bool("reactivated", existing != nil).Msg("Vehicle added")
	return nil
}

// reconcileSeen diffs a listing against its stored record. Any field change
// marks the vehicle updated and appends one history entry per changed field;
// otherwise only last_seen is refreshed.
func (r *Reconciler) reconcileSeen(listing domain.Listing, now time.Time, result *domain.SyncResult) error {
	existing, err := r.vehicles.GetByVIN(listing.VIN)
	if err != nil {
		return fmt.Errorf("failed to load vehicle %s: %w", listing.VIN, err)
	}
	if existing == nil {
		// Active set said it exists; treat as new to stay safe
		return r.reconcileNew(listing, now, result)
	}

	changes := detectChanges(*existing, listing)
	if len(changes) == 0 {
		if err := r.vehicles.TouchLastSeen(listing.VIN, now); err != nil {
			return err
		}
		result.Counts.Unchanged++
		return nil
	}

	entries := make([]domain.HistoryEntry, 0, len(changes))
	fields := make(map[string]domain.FieldChange, len(changes))
	for _, c := range changes {
		entries = append(entries, domain.HistoryEntry{
			VIN:       listing.VIN,
			Field:     c.Field,
			OldValue:  c.Old,
			NewValue:  c.New,
			Timestamp: now,
		})
		fields[c.Field] = domain.FieldChange{Old: c.Old, New: c.New}
	}
	updated := applyListing(*existing, listing)
	updated.LastSeen = now
	updated.LastChanged = now
	if err := r.vehicles.ApplyChanges(updated, entries); err != nil {
		return err
	}

	result.Counts.Updated++
	result.UpdatedList = append(result.UpdatedList, domain.UpdateDetail{
		VIN:    listing.VIN,
		Title:  existing.Title,
		Fields: fields,
	})
	r.log.Debug().Str("vin", listing.VIN).Int("fields_changed", len(changes)).Msg("Vehicle updated")
	return nil
}

// fieldDiff is one detected change on a trackable field.
type fieldDiff struct {
	Field string
	Old   string
	New   string
}

// detectChanges compares the trackable fields between stored and scraped state.
// Strings are compared after trimming; numeric fields by value. VIN, timestamps
// and prediction fields are never compared.
func detectChanges(existing domain.Vehicle, scraped domain.Listing) []fieldDiff {
	var diffs []fieldDiff

	addInt := func(field string, oldVal, newVal *int64) {
		if newVal == nil {
			// A missing scraped value is treated as not-observed, not a change
			return
		}
		if oldVal == nil || *oldVal != *newVal {
			diffs = append(diffs, fieldDiff{Field: field, Old: formatOptInt(oldVal), New: strconv.FormatInt(*newVal, 10)})
		}
	}
	addStr := func(field, oldVal, newVal string) {
		newVal = strings.TrimSpace(newVal)
		if newVal == "" {
			return
		}
		if strings.TrimSpace(oldVal) != newVal {
			diffs = append(diffs, fieldDiff{Field: field, Old: strings.TrimSpace(oldVal), New: newVal})
		}
	}

	addInt("price", existing.Price, scraped.Price)
	addInt("mileage", existing.Mileage, scraped.Mileage)
	addStr("title", existing.Title, scraped.Title)
	if scraped.Year != 0 && scraped.Year != existing.Year {
		diffs = append(diffs, fieldDiff{Field: "year", Old: strconv.Itoa(existing.Year), New: strconv.Itoa(scraped.Year)})
	}
	addStr("fuel_type", existing.FuelType, scraped.FuelType)
	addStr("transmission", existing.Transmission, scraped.Transmission)
	addStr("drivetrain", existing.Drivetrain, scraped.Drivetrain)
	addStr("body_style", existing.BodyStyle, scraped.BodyStyle)
	addStr("trim", existing.Trim, scraped.Trim)

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Field < diffs[j].Field })
	return diffs
}

// applyListing overlays scraped values onto the stored record. Empty scraped
// strings and nil numerics keep the stored value; descriptive extras (engine,
// colors, listing URL) follow the same rule even though they are untracked.
func applyListing(existing domain.Vehicle, scraped domain.Listing) domain.Vehicle {
	v := existing
	if scraped.Price != nil {
		v.Price = scraped.Price
	}
	if scraped.Mileage != nil {
		v.Mileage = scraped.Mileage
	}
	if s := strings.TrimSpace(scraped.Title); s != "" {
		v.Title = s
	}
	if scraped.Year != 0 {
		v.Year = scraped.Year
	}
	if s := strings.TrimSpace(scraped.Make); s != "" {
		v.Make = s
	}
	if s := strings.TrimSpace(scraped.Model); s != "" {
		v.Model = s
	}
	if s := strings.TrimSpace(scraped.Trim); s != "" {
		v.Trim = s
	}
	if s := strings.TrimSpace(scraped.FuelType); s != "" {
		v.FuelType = s
	}
	if s := strings.TrimSpace(scraped.Transmission); s != "" {
		v.Transmission = s
	}
	if s := strings.TrimSpace(scraped.Drivetrain); s != "" {
		v.Drivetrain = s
	}
	if s := strings.TrimSpace(scraped.BodyStyle); s != "" {
		v.BodyStyle = s
	}
	if s := strings.TrimSpace(scraped.Engine); s != "" {
		v.Engine = s
	}
	if s := strings.TrimSpace(scraped.ExteriorColor); s != "" {
		v.ExteriorColor = s
	}
	if s := strings.TrimSpace(scraped.InteriorColor); s != "" {
		v.InteriorColor = s
	}
	if s := strings.TrimSpace(scraped.ListingURL); s != "" {
		v.ListingURL = s
	}
	v.Status = domain.StatusActive
	return v
}

func formatOptInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
