package inventory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// HistoryRepository handles the append-only field-change journal.
// Entries are never mutated or deleted.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repo", "price_history").Logger(),
	}
}

// Append writes one or more change entries in a single transaction.
func (r *HistoryRepository) Append(entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendHistoryTx(tx, entries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// appendHistoryTx inserts journal entries inside an existing transaction.
// Shared with VehicleRepository.ApplyChanges so an update and its journal
// commit together.
func appendHistoryTx(tx *sql.Tx, entries []domain.HistoryEntry) error {
	stmt, err := tx.Prepare("INSERT INTO price_history (vin, field, old_value, new_value, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(normalizeVIN(e.VIN), e.Field, e.OldValue, e.NewValue, e.Timestamp.Unix()); err != nil {
			return fmt.Errorf("failed to append history entry for %s/%s: %w", e.VIN, e.Field, err)
		}
	}
	return nil
}

// ListByVIN returns a vehicle's change history, oldest first.
func (r *HistoryRepository) ListByVIN(vin string) ([]domain.HistoryEntry, error) {
	rows, err := r.db.Query(
		"SELECT vin, field, old_value, new_value, timestamp FROM price_history WHERE vin = ? ORDER BY timestamp ASC, id ASC",
		normalizeVIN(vin))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var oldVal, newVal sql.NullString
		var ts int64
		if err := rows.Scan(&e.VIN, &e.Field, &oldVal, &newVal, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.OldValue = oldVal.String
		e.NewValue = newVal.String
		e.Timestamp = time.Unix(ts, 0).UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}
