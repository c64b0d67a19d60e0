// Package inventory provides persistence for vehicle records, their field-change
// history, and the bounded sync-run log.
package inventory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// vehicleColumns is the list of columns for the vehicles table.
// Used to avoid SELECT * which can break when the schema changes.
// Column order must match scanVehicle() expectations.
const vehicleColumns = `vin, title, price, mileage, year, make, model, trim, fuel_type,
transmission, drivetrain, body_style, engine, exterior_color, interior_color,
listing_url, status, first_seen, last_seen, last_changed, predicted_price, price_difference`

// VehicleRepository handles vehicle table operations
type VehicleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewVehicleRepository creates a new vehicle repository
func NewVehicleRepository(db *sql.DB, log zerolog.Logger) *VehicleRepository {
	return &VehicleRepository{
		db:  db,
		log: log.With().Str("repo", "vehicles").Logger(),
	}
}

// GetActive returns all vehicles currently believed to be listed for sale,
// most recently first-seen first.
func (r *VehicleRepository) GetActive() ([]domain.Vehicle, error) {
	return r.query("SELECT "+vehicleColumns+" FROM vehicles WHERE status = ? ORDER BY first_seen DESC",
		string(domain.StatusActive))
}

// GetAll returns all vehicles, optionally including removed ones.
func (r *VehicleRepository) GetAll(includeRemoved bool) ([]domain.Vehicle, error) {
	if includeRemoved {
		return r.query("SELECT " + vehicleColumns + " FROM vehicles ORDER BY first_seen DESC")
	}
	return r.GetActive()
}

// GetByVIN returns a single vehicle, or nil when not found.
func (r *VehicleRepository) GetByVIN(vin string) (*domain.Vehicle, error) {
	vin = normalizeVIN(vin)

	rows, err := r.db.Query("SELECT "+vehicleColumns+" FROM vehicles WHERE vin = ?", vin)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle by VIN: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	v, err := scanVehicle(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vehicle: %w", err)
	}
	return &v, nil
}

// ActiveVINs returns the set of VINs currently marked active.
func (r *VehicleRepository) ActiveVINs() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT vin FROM vehicles WHERE status = ?", string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active VINs: %w", err)
	}
	defer rows.Close()

	vins := make(map[string]bool)
	for rows.Next() {
		var vin string
		if err := rows.Scan(&vin); err != nil {
			return nil, fmt.Errorf("failed to scan VIN: %w", err)
		}
		vins[vin] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating VINs: %w", err)
	}
	return vins, nil
}

// CountActive returns the number of active vehicles.
func (r *VehicleRepository) CountActive() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM vehicles WHERE status = ?", string(domain.StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active vehicles: %w", err)
	}
	return n, nil
}

// Upsert inserts or fully replaces a vehicle row.
func (r *VehicleRepository) Upsert(v domain.Vehicle) error {
	v.VIN = normalizeVIN(v.VIN)
	if v.VIN == "" {
		return fmt.Errorf("VIN is required for vehicle upsert")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertVehicleTx(tx, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ApplyChanges replaces a vehicle row and appends its field-change journal
// entries in a single transaction. A failure leaves neither half behind, so a
// retried run re-detects the same diff instead of journaling it twice.
func (r *VehicleRepository) ApplyChanges(v domain.Vehicle, entries []domain.HistoryEntry) error {
	v.VIN = normalizeVIN(v.VIN)
	if v.VIN == "" {
		return fmt.Errorf("VIN is required for vehicle upsert")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendHistoryTx(tx, entries); err != nil {
		return err
	}
	if err := upsertVehicleTx(tx, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func upsertVehicleTx(tx *sql.Tx, v domain.Vehicle) error {
	query := `
		INSERT OR REPLACE INTO vehicles
		(vin, title, price, mileage, year, make, model, trim, fuel_type,
		 transmission, drivetrain, body_style, engine, exterior_color, interior_color,
		 listing_url, status, first_seen, last_seen, last_changed, predicted_price, price_difference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		v.VIN,
		v.Title,
		nullInt64(v.Price),
		nullInt64(v.Mileage),
		v.Year,
		v.Make,
		v.Model,
		v.Trim,
		v.FuelType,
		v.Transmission,
		v.Drivetrain,
		v.BodyStyle,
		v.Engine,
		v.ExteriorColor,
		v.InteriorColor,
		v.ListingURL,
		string(v.Status),
		v.FirstSeen.Unix(),
		v.LastSeen.Unix(),
		v.LastChanged.Unix(),
		nullInt64(v.PredictedPrice),
		nullInt64(v.PriceDifference),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle: %w", err)
	}
	return nil
}

// MarkRemoved flips a vehicle's status to removed. last_seen is deliberately
// left at its prior value: it records the last time the vehicle was actually
// observed, not the run that noticed its absence.
func (r *VehicleRepository) MarkRemoved(vin string) error {
	vin = normalizeVIN(vin)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec("UPDATE vehicles SET status = ? WHERE vin = ?", string(domain.StatusRemoved), vin)
	if err != nil {
		return fmt.Errorf("failed to mark vehicle removed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Str("vin", vin).Msg("Vehicle marked as removed")
	return nil
}

// TouchLastSeen refreshes last_seen on an unchanged vehicle.
func (r *VehicleRepository) TouchLastSeen(vin string, seenAt time.Time) error {
	vin = normalizeVIN(vin)

	_, err := r.db.Exec("UPDATE vehicles SET last_seen = ? WHERE vin = ?", seenAt.Unix(), vin)
	if err != nil {
		return fmt.Errorf("failed to update last_seen: %w", err)
	}
	return nil
}

// UpdatePrediction writes the model's predicted price and the price difference
// onto a vehicle. Only the prediction-refresh step calls this.
func (r *VehicleRepository) UpdatePrediction(vin string, predicted, difference int64) error {
	vin = normalizeVIN(vin)

	_, err := r.db.Exec("UPDATE vehicles SET predicted_price = ?, price_difference = ? WHERE vin = ?",
		predicted, difference, vin)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	return nil
}

// SearchFilter narrows an active-inventory search. Zero values mean "no filter".
type SearchFilter struct {
	Make         string
	Model        string
	YearMin      int
	YearMax      int
	PriceMin     int64
	PriceMax     int64
	FuelType     string
	Transmission string
}

// Search returns active vehicles matching the filter, cheapest first.
func (r *VehicleRepository) Search(f SearchFilter) ([]domain.Vehicle, error) {
	query := "SELECT " + vehicleColumns + " FROM vehicles WHERE status = ?"
	args := []interface{}{string(domain.StatusActive)}

	if f.Make != "" {
		query += " AND make LIKE ?"
		args = append(args, "%"+f.Make+"%")
	}
	if f.Model != "" {
		query += " AND model LIKE ?"
		args = append(args, "%"+f.Model+"%")
	}
	if f.YearMin > 0 {
		query += " AND year >= ?"
		args = append(args, f.YearMin)
	}
	if f.YearMax > 0 {
		query += " AND year <= ?"
		args = append(args, f.YearMax)
	}
	if f.PriceMin > 0 {
		query += " AND price >= ?"
		args = append(args, f.PriceMin)
	}
	if f.PriceMax > 0 {
		query += " AND price <= ?"
		args = append(args, f.PriceMax)
	}
	if f.FuelType != "" {
		query += " AND fuel_type LIKE ?"
		args = append(args, "%"+f.FuelType+"%")
	}
	if f.Transmission != "" {
		query += " AND transmission LIKE ?"
		args = append(args, "%"+f.Transmission+"%")
	}

	query += " ORDER BY price ASC"

	return r.query(query, args...)
}

func (r *VehicleRepository) query(query string, args ...interface{}) ([]domain.Vehicle, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []domain.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicles: %w", err)
	}

	return vehicles, nil
}

// scanVehicle scans a database row into a domain.Vehicle.
// Column order must match vehicleColumns.
func scanVehicle(rows *sql.Rows) (domain.Vehicle, error) {
	var v domain.Vehicle
	var price, mileage, predicted, difference sql.NullInt64
	var status string
	var firstSeen, lastSeen, lastChanged int64

	err := rows.Scan(
		&v.VIN,
		&v.Title,
		&price,
		&mileage,
		&v.Year,
		&v.Make,
		&v.Model,
		&v.Trim,
		&v.FuelType,
		&v.Transmission,
		&v.Drivetrain,
		&v.BodyStyle,
		&v.Engine,
		&v.ExteriorColor,
		&v.InteriorColor,
		&v.ListingURL,
		&status,
		&firstSeen,
		&lastSeen,
		&lastChanged,
		&predicted,
		&difference,
	)
	if err != nil {
		return v, err
	}

	v.Status = domain.VehicleStatus(status)
	v.FirstSeen = time.Unix(firstSeen, 0).UTC()
	v.LastSeen = time.Unix(lastSeen, 0).UTC()
	v.LastChanged = time.Unix(lastChanged, 0).UTC()
	if price.Valid {
		v.Price = &price.Int64
	}
	if mileage.Valid {
		v.Mileage = &mileage.Int64
	}
	if predicted.Valid {
		v.PredictedPrice = &predicted.Int64
	}
	if difference.Valid {
		v.PriceDifference = &difference.Int64
	}

	return v, nil
}

func normalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// nullInt64 converts an optional int64 to sql.NullInt64
func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
