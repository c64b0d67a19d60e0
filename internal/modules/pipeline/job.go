package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// SyncJob adapts the orchestrator to the scheduler's Job interface.
type SyncJob struct {
	orchestrator *Orchestrator
	log          zerolog.Logger
}

// NewSyncJob creates the scheduled sync job.
func NewSyncJob(orchestrator *Orchestrator, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		orchestrator: orchestrator,
		log:          log.With().Str("job", "inventory-sync").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *SyncJob) Name() string { return "inventory-sync" }

// Run executes one scheduled pipeline run. A run already in flight is skipped,
// not an error; the next scheduled slot will pick it up.
func (j *SyncJob) Run() error {
	_, err := j.orchestrator.Run(context.Background(), domain.SourceScheduled)
	if errors.Is(err, ErrPipelineBusy) {
		j.log.Warn().Msg("Scheduled sync skipped, a run is already in progress")
		return nil
	}
	return err
}
