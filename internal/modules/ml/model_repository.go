package ml

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ModelRepository persists the single current ModelRecord. The JSON document
// keeps the schema-stable field names dashboards assert on; the fitted model
// parameters are a msgpack blob alongside it.
type ModelRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *sql.DB, log zerolog.Logger) *ModelRepository {
	return &ModelRepository{
		db:  db,
		log: log.With().Str("repo", "model_state").Logger(),
	}
}

// Save replaces the current model record atomically. The previous record stays
// readable until the replacing transaction commits, so a failed save never
// leaves the store without a model.
func (r *ModelRepository) Save(record *ModelRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal model document: %w", err)
	}
	params, err := record.EncodeParams()
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO model_state (id, trained_at, best_model, document, params)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			trained_at = excluded.trained_at,
			best_model = excluded.best_model,
			document = excluded.document,
			params = excluded.params`,
		record.TrainedAt.Unix(),
		record.BestModel,
		string(doc),
		params,
	)
	if err != nil {
		return fmt.Errorf("failed to save model record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().
		Str("best_model", record.BestModel).
		Time("trained_at", record.TrainedAt).
		Msg("Model record saved")
	return nil
}

// Load returns the current model record with its fitted model restored, or nil
// when no training run has completed yet.
func (r *ModelRepository) Load() (*ModelRecord, error) {
	var trainedAt int64
	var bestModel, doc string
	var params []byte

	err := r.db.QueryRow("SELECT trained_at, best_model, document, params FROM model_state WHERE id = 1").
		Scan(&trainedAt, &bestModel, &doc, &params)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model record: %w", err)
	}

	var record ModelRecord
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model document: %w", err)
	}
	record.TrainedAt = time.Unix(trainedAt, 0).UTC()
	record.BestModel = bestModel

	if err := record.DecodeParams(params); err != nil {
		return nil, err
	}

	return &record, nil
}
