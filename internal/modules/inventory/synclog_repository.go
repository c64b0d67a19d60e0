package inventory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// maxSyncHistory bounds the sync log: the most recent runs are retained and
// older entries are evicted oldest-first.
const maxSyncHistory = 100

// syncDetails is the JSON document stored in the sync_log details column.
type syncDetails struct {
	Added   []domain.VehicleRef   `json:"added_details"`
	Removed []domain.VehicleRef   `json:"removed_details"`
	Updated []domain.UpdateDetail `json:"updated_details"`
}

// SyncLogRepository handles the bounded history of reconciliation runs
type SyncLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *sql.DB, log zerolog.Logger) *SyncLogRepository {
	return &SyncLogRepository{
		db:  db,
		log: log.With().Str("repo", "sync_log").Logger(),
	}
}

// Append records one sync result and evicts entries beyond the retention bound.
func (r *SyncLogRepository) Append(result domain.SyncResult) error {
	details, err := json.Marshal(syncDetails{
		Added:   emptyRefs(result.AddedDetails),
		Removed: emptyRefs(result.RemovedList),
		Updated: emptyUpdates(result.UpdatedList),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync details: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO sync_log
		(run_id, timestamp, source, status, error, total_scraped, added, updated, removed, unchanged, total_active, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Timestamp.Unix(),
		string(result.Source),
		string(result.Status),
		result.Error,
		result.TotalScraped,
		result.Counts.Added,
		result.Counts.Updated,
		result.Counts.Removed,
		result.Counts.Unchanged,
		result.TotalActive,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync log entry: %w", err)
	}

	// Evict oldest entries beyond the retention bound
	_, err = tx.Exec(`
		DELETE FROM sync_log WHERE id NOT IN (
			SELECT id FROM sync_log ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, maxSyncHistory)
	if err != nil {
		return fmt.Errorf("failed to trim sync log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().
		Str("run_id", result.RunID).
		Str("source", string(result.Source)).
		Str("status", string(result.Status)).
		Int("added", result.Counts.Added).
		Int("updated", result.Counts.Updated).
		Int("removed", result.Counts.Removed).
		Int("unchanged", result.Counts.Unchanged).
		Msg("Sync result recorded")
	return nil
}

// Last returns the most recent sync result, or nil when no run has happened yet.
func (r *SyncLogRepository) Last() (*domain.SyncResult, error) {
	results, err := r.List(1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// List returns up to limit sync results, most recent first.
func (r *SyncLogRepository) List(limit int) ([]domain.SyncResult, error) {
	if limit <= 0 || limit > maxSyncHistory {
		limit = maxSyncHistory
	}

	rows, err := r.db.Query(`
		SELECT run_id, timestamp, source, status, error, total_scraped, added, updated, removed, unchanged, total_active, details
		FROM sync_log ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var results []domain.SyncResult
	for rows.Next() {
		result, err := scanSyncResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}

	return results, nil
}

// Count returns the number of retained sync log entries.
func (r *SyncLogRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM sync_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync log entries: %w", err)
	}
	return n, nil
}

func scanSyncResult(rows *sql.Rows) (domain.SyncResult, error) {
	var result domain.SyncResult
	var ts int64
	var source, status string
	var details string

	err := rows.Scan(
		&result.RunID,
		&ts,
		&source,
		&status,
		&result.Error,
		&result.TotalScraped,
		&result.Counts.Added,
		&result.Counts.Updated,
		&result.Counts.Removed,
		&result.Counts.Unchanged,
		&result.TotalActive,
		&details,
	)
	if err != nil {
		return result, err
	}

	result.Timestamp = time.Unix(ts, 0).UTC()
	result.Source = domain.SyncSource(source)
	result.Status = domain.SyncStatus(status)

	var d syncDetails
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return result, fmt.Errorf("failed to unmarshal sync details: %w", err)
	}
	result.AddedDetails = d.Added
	result.RemovedList = d.Removed
	result.UpdatedList = d.Updated

	return result, nil
}

// emptyRefs keeps the persisted document shape stable: empty lists serialize as
// [] rather than null.
func emptyRefs(refs []domain.VehicleRef) []domain.VehicleRef {
	if refs == nil {
		return []domain.VehicleRef{}
	}
	return refs
}

func emptyUpdates(updates []domain.UpdateDetail) []domain.UpdateDetail {
	if updates == nil {
		return []domain.UpdateDetail{}
	}
	return updates
}
