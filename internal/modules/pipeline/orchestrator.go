package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
)

// Stage is the pipeline's current position. Transitions are strictly
// Idle -> Scraping -> Syncing -> Training -> Predicting -> Idle; failures
// short-circuit back to Idle with the error recorded on the run report.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageScraping   Stage = "scraping"
	StageSyncing    Stage = "syncing"
	StageTraining   Stage = "training"
	StagePredicting Stage = "predicting"
)

// ErrPipelineBusy is returned when a trigger arrives while a run is in flight.
var ErrPipelineBusy = errors.New("pipeline already running")

// BusyError carries the stage the in-flight run was in when the trigger was
// rejected. Unwraps to ErrPipelineBusy.
type BusyError struct {
	Stage Stage
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("pipeline already running (stage %s)", e.Stage)
}

func (e *BusyError) Unwrap() error { return ErrPipelineBusy }

// SnapshotSource produces one full inventory snapshot.
type SnapshotSource interface {
	Scrape(ctx context.Context) (domain.Snapshot, error)
}

// Reconciler applies a snapshot to stored state.
type Reconciler interface {
	Reconcile(snapshot domain.Snapshot, source domain.SyncSource) (*domain.SyncResult, error)
}

// Trainer fits and selects a price model from the active inventory.
type Trainer interface {
	Train(vehicles []domain.Vehicle) (*ml.ModelRecord, error)
}

// Predictor installs trained models and refreshes stored predictions.
type Predictor interface {
	Install(record *ml.ModelRecord) error
	IsTrained() bool
	RefreshPredictions() (int, error)
}

// VehicleSource supplies the active inventory for training.
type VehicleSource interface {
	GetActive() ([]domain.Vehicle, error)
}

// Report summarizes one pipeline run.
type Report struct {
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
	Source             domain.SyncSource  `json:"source"`
	Sync               *domain.SyncResult `json:"sync,omitempty"`
	Trained            bool               `json:"trained"`
	TrainingSkipped    string             `json:"training_skipped,omitempty"`
	PredictionsUpdated int                `json:"predictions_updated"`
	Error              string             `json:"error,omitempty"`
}

// Status is the poll-friendly view of the pipeline.
type Status struct {
	Running bool    `json:"running"`
	Stage   Stage   `json:"stage"`
	LastRun *Report `json:"last_run,omitempty"`
}

// Orchestrator drives scrape, reconcile, train and predict as one run.
// Single-flight: at most one run is in progress, later triggers are rejected
// with BusyError rather than queued.
type Orchestrator struct {
	scraper   SnapshotSource
	reconcile Reconciler
	trainer   Trainer
	predictor Predictor
	vehicles  VehicleSource
	log       zerolog.Logger

	mu      sync.Mutex
	stage   Stage
	lastRun *Report
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(scraper SnapshotSource, reconcile Reconciler, trainer Trainer, predictor Predictor, vehicles VehicleSource, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		scraper:   scraper,
		reconcile: reconcile,
		trainer:   trainer,
		predictor: predictor,
		vehicles:  vehicles,
		log:       log.With().Str("component", "pipeline").Logger(),
		stage:     StageIdle,
	}
}

// Status reports the current stage and the last completed run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Running: o.stage != StageIdle,
		Stage:   o.stage,
		LastRun: o.lastRun,
	}
}

// TriggerAsync starts a run in the background. Returns BusyError immediately
// when a run is already in flight.
func (o *Orchestrator) TriggerAsync(ctx context.Context, source domain.SyncSource) error {
	if err := o.begin(); err != nil {
		return err
	}
	go func() {
		report := o.execute(ctx, source)
		o.finish(report)
	}()
	return nil
}

// Run executes a full pipeline run and blocks until it finishes.
func (o *Orchestrator) Run(ctx context.Context, source domain.SyncSource) (*Report, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	report := o.execute(ctx, source)
	o.finish(report)
	if report.Error != "" {
		return report, errors.New(report.Error)
	}
	return report, nil
}

// begin claims the pipeline or rejects with the in-flight stage.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stage != StageIdle {
		return &BusyError{Stage: o.stage}
	}
	o.stage = StageScraping
	return nil
}

func (o *Orchestrator) setStage(s Stage) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()
}

func (o *Orchestrator) finish(report *Report) {
	o.mu.Lock()
	o.stage = StageIdle
	o.lastRun = report
	o.mu.Unlock()
}

// execute walks the stages. The caller already claimed the pipeline.
func (o *Orchestrator) execute(ctx context.Context, source domain.SyncSource) *Report {
	report := &Report{StartedAt: time.Now().UTC(), Source: source}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	o.log.Info().Str("source", string(source)).Msg("Pipeline run started")

	snapshot, err := o.scraper.Scrape(ctx)
	if err != nil {
		snapshot.ScrapeOK = false
	}

	// A failed scrape is still reconciled so the failure lands in the sync
	// history, with zero inventory mutations.
	o.setStage(StageSyncing)
	syncResult, syncErr := o.reconcile.Reconcile(snapshot, source)
	report.Sync = syncResult
	if syncErr != nil {
		report.Error = fmt.Sprintf("reconciliation failed: %v", syncErr)
		o.log.Error().Err(syncErr).Msg("Pipeline run aborted")
		return report
	}
	if !snapshot.ScrapeOK {
		if err != nil {
			report.Error = fmt.Sprintf("scrape failed: %v", err)
		} else {
			report.Error = "scrape failed"
		}
		o.log.Warn().Str("error", report.Error).Msg("Pipeline run recorded failed scrape")
		return report
	}

	// Training failure keeps the reconciled inventory and the prior model.
	o.setStage(StageTraining)
	active, err := o.vehicles.GetActive()
	if err != nil {
		report.Error = fmt.Sprintf("failed to load inventory for training: %v", err)
		return report
	}

	record, err := o.trainer.Train(active)
	switch {
	case errors.Is(err, ml.ErrTrainingDataInsufficient):
		report.TrainingSkipped = err.Error()
		o.log.Warn().Err(err).Msg("Training skipped")
	case err != nil:
		report.Error = fmt.Sprintf("training failed: %v", err)
		o.log.Error().Err(err).Msg("Training failed, prior model retained")
		return report
	default:
		if err := o.predictor.Install(record); err != nil {
			report.Error = fmt.Sprintf("failed to install model: %v", err)
			return report
		}
		report.Trained = true
	}

	o.setStage(StagePredicting)
	if o.predictor.IsTrained() {
		updated, err := o.predictor.RefreshPredictions()
		report.PredictionsUpdated = updated
		if err != nil {
			report.Error = fmt.Sprintf("prediction refresh failed: %v", err)
			return report
		}
	}

	o.log.Info().
		Bool("trained", report.Trained).
		Int("predictions_updated", report.PredictionsUpdated).
		Dur("elapsed", time.Since(report.StartedAt)).
		Msg("Pipeline run complete")
	return report
}
