package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush8285/dealertrack/internal/domain"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
)

type stubScraper struct {
	snapshot domain.Snapshot
	err      error
	block    chan struct{} // when set, Scrape waits until closed
	calls    int
}

func (s *stubScraper) Scrape(ctx context.Context) (domain.Snapshot, error) {
	s.calls++
	if s.block != nil {
		<-s.block
	}
	return s.snapshot, s.err
}

type stubReconciler struct {
	results []*domain.SyncResult
}

func (s *stubReconciler) Reconcile(snapshot domain.Snapshot, source domain.SyncSource) (*domain.SyncResult, error) {
	status := domain.SyncCompleted
	if !snapshot.ScrapeOK {
		status = domain.SyncFailed
	}
	result := &domain.SyncResult{
		RunID:        "test-run",
		Timestamp:    time.Now().UTC(),
		Source:       source,
		Status:       status,
		TotalScraped: len(snapshot.Listings),
	}
	s.results = append(s.results, result)
	return result, nil
}

type stubTrainer struct {
	record *ml.ModelRecord
	err    error
	calls  int
}

func (s *stubTrainer) Train(vehicles []domain.Vehicle) (*ml.ModelRecord, error) {
	s.calls++
	return s.record, s.err
}

type stubPredictor struct {
	mu         sync.Mutex
	installed  *ml.ModelRecord
	installErr error
	trained    bool
	refreshed  int
	refreshErr error
}

func (s *stubPredictor) Install(record *ml.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installErr != nil {
		return s.installErr
	}
	s.installed = record
	s.trained = true
	return nil
}

func (s *stubPredictor) IsTrained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trained
}

func (s *stubPredictor) RefreshPredictions() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed++
	return 7, s.refreshErr
}

type stubVehicles struct {
	active []domain.Vehicle
}

func (s *stubVehicles) GetActive() ([]domain.Vehicle, error) {
	return s.active, nil
}

func okSnapshot() domain.Snapshot {
	vin := "WA1AAAFY0N2000001"
	price := int64(45000)
	return domain.Snapshot{
		ScrapeOK: true,
		Listings: []domain.Listing{{VIN: vin, Price: &price}},
	}
}

func newTestOrchestrator(scraper *stubScraper, trainer *stubTrainer, predictor *stubPredictor) (*Orchestrator, *stubReconciler) {
	reconciler := &stubReconciler{}
	o := NewOrchestrator(scraper, reconciler, trainer, predictor, &stubVehicles{}, zerolog.Nop())
	return o, reconciler
}

func TestOrchestrator_FullRun(t *testing.T) {
	scraper := &stubScraper{snapshot: okSnapshot()}
	trainer := &stubTrainer{record: &ml.ModelRecord{BestModel: ml.ModelRandomForest}}
	predictor := &stubPredictor{}
	o, reconciler := newTestOrchestrator(scraper, trainer, predictor)

	report, err := o.Run(context.Background(), domain.SourceManual)
	require.NoError(t, err)

	assert.True(t, report.Trained)
	assert.Equal(t, 7, report.PredictionsUpdated)
	assert.Empty(t, report.Error)
	assert.NotNil(t, report.Sync)
	assert.Len(t, reconciler.results, 1)
	assert.Equal(t, trainer.record, predictor.installed)

	status := o.Status()
	assert.False(t, status.Running)
	assert.Equal(t, StageIdle, status.Stage)
	assert.Equal(t, report, status.LastRun)
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	scraper := &stubScraper{snapshot: okSnapshot(), block: block}
	trainer := &stubTrainer{record: &ml.ModelRecord{}}
	o, _ := newTestOrchestrator(scraper, trainer, &stubPredictor{})

	require.NoError(t, o.TriggerAsync(context.Background(), domain.SourceScheduled))

	// Busy while the first run is still scraping
	waitForStage(t, o, StageScraping)
	err := o.TriggerAsync(context.Background(), domain.SourceManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPipelineBusy))

	var busy *BusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, StageScraping, busy.Stage)

	_, err = o.Run(context.Background(), domain.SourceManual)
	assert.True(t, errors.Is(err, ErrPipelineBusy), "blocking trigger rejected the same way")

	close(block)
	waitForStage(t, o, StageIdle)

	assert.Equal(t, 1, scraper.calls, "rejected triggers never reach the scraper")

	// Idle again: a new trigger is accepted
	scraper.block = nil
	require.NoError(t, o.TriggerAsync(context.Background(), domain.SourceManual))
	waitForStage(t, o, StageIdle)
	assert.Equal(t, 2, scraper.calls)
}

func TestOrchestrator_FailedScrapeRecordsFailedSync(t *testing.T) {
	scraper := &stubScraper{snapshot: domain.Snapshot{ScrapeOK: false}, err: errors.New("browser crashed")}
	trainer := &stubTrainer{}
	predictor := &stubPredictor{}
	o, reconciler := newTestOrchestrator(scraper, trainer, predictor)

	report, err := o.Run(context.Background(), domain.SourceScheduled)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Contains(t, report.Error, "browser crashed")
	require.Len(t, reconciler.results, 1, "the failure still lands in the sync history")
	assert.Equal(t, domain.SyncFailed, reconciler.results[0].Status)

	assert.Equal(t, 0, trainer.calls, "no training after a failed scrape")
	assert.Equal(t, 0, predictor.refreshed)
	assert.Equal(t, StageIdle, o.Status().Stage)
}

func TestOrchestrator_InsufficientDataKeepsPriorModel(t *testing.T) {
	scraper := &stubScraper{snapshot: okSnapshot()}
	trainer := &stubTrainer{err: ml.ErrTrainingDataInsufficient}
	predictor := &stubPredictor{trained: true} // prior model loaded at startup
	o, _ := newTestOrchestrator(scraper, trainer, predictor)

	report, err := o.Run(context.Background(), domain.SourceScheduled)
	require.NoError(t, err, "skipped training is not a run failure")

	assert.False(t, report.Trained)
	assert.NotEmpty(t, report.TrainingSkipped)
	assert.Nil(t, predictor.installed, "no new model installed")
	assert.Equal(t, 1, predictor.refreshed, "prior model still refreshes predictions")
	assert.Equal(t, 7, report.PredictionsUpdated)
}

func TestOrchestrator_TrainingErrorKeepsReconciliation(t *testing.T) {
	scraper := &stubScraper{snapshot: okSnapshot()}
	trainer := &stubTrainer{err: errors.New("numerical instability")}
	predictor := &stubPredictor{}
	o, reconciler := newTestOrchestrator(scraper, trainer, predictor)

	report, err := o.Run(context.Background(), domain.SourceManual)
	require.Error(t, err)

	assert.Contains(t, report.Error, "training failed")
	assert.Len(t, reconciler.results, 1, "reconciliation survives a training failure")
	assert.Equal(t, domain.SyncCompleted, reconciler.results[0].Status)
	assert.Equal(t, 0, predictor.refreshed)
}

func waitForStage(t *testing.T, o *Orchestrator, want Stage) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Status().Stage == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline never reached stage %s (currently %s)", want, o.Status().Stage)
}
