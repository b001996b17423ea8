// Package job tracks analysis jobs from submission to a terminal state and
// runs them asynchronously. Jobs are independent: submitting while another
// job is running starts a second pipeline rather than rejecting the request.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/model"
)

// Runner executes one analysis job. It reports phase transitions through the
// callback and returns the result payload for a completed job.
type Runner func(ctx context.Context, j model.Job, report func(model.JobProgress)) (*model.AnalysisResult, error)

// Manager owns the in-memory job table and the async runners.
type Manager struct {
	run Runner

	mu   sync.RWMutex
	jobs map[string]*model.Job
	wg   sync.WaitGroup
}

// NewManager creates a Manager that executes jobs with the given runner.
func NewManager(run Runner) *Manager {
	return &Manager{run: run, jobs: make(map[string]*model.Job)}
}

var progressRank = func() map[model.JobProgress]int {
	ranks := make(map[model.JobProgress]int, len(model.ProgressOrder))
	for i, p := range model.ProgressOrder {
		ranks[p] = i + 1
	}
	return ranks
}()

// Submit registers a new job and starts its pipeline in the background. The
// job runs on a context detached from the caller's: an HTTP request ending
// must not cancel the analysis it queued.
func (m *Manager) Submit(ctx context.Context, domain string, competitors []string) (model.Job, error) {
	if domain == "" {
		return model.Job{}, eris.New("job: domain is required")
	}

	j := &model.Job{
		ID:          uuid.NewString(),
		Domain:      domain,
		Competitors: append([]string(nil), competitors...),
		Status:      model.JobStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	zap.L().Info("job submitted",
		zap.String("job_id", j.ID),
		zap.String("domain", domain),
		zap.Int("competitors", len(competitors)),
	)

	m.wg.Add(1)
	go m.execute(context.WithoutCancel(ctx), j.ID)

	return *j, nil
}

// Get returns a snapshot of the job, or false when the ID is unknown.
func (m *Manager) Get(jobID string) (model.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, false
	}
	return *j, true
}

// Wait blocks until every submitted job has reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) execute(ctx context.Context, jobID string) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.fail(jobID, eris.Errorf("pipeline panicked: %v", r))
		}
	}()

	snapshot, ok := m.markRunning(jobID)
	if !ok {
		return
	}

	result, err := m.run(ctx, snapshot, func(p model.JobProgress) {
		m.advance(jobID, p)
	})
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.complete(jobID, result)
}

func (m *Manager) markRunning(jobID string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, false
	}
	now := time.Now().UTC()
	j.Status = model.JobStatusRunning
	j.StartedAt = &now
	return *j, true
}

// advance moves the job's progress forward. Out-of-order or repeated reports
// are ignored so progress never moves backwards.
func (m *Manager) advance(jobID string, p model.JobProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || progressRank[p] <= progressRank[j.Progress] {
		return
	}
	j.Progress = p
	zap.L().Info("job progress",
		zap.String("job_id", jobID),
		zap.String("phase", string(p)),
	)
}

func (m *Manager) complete(jobID string, result *model.AnalysisResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	j.Status = model.JobStatusComplete
	j.Result = result
	j.FinishedAt = &now
	zap.L().Info("job complete",
		zap.String("job_id", jobID),
		zap.Duration("elapsed", now.Sub(j.CreatedAt)),
	)
}

func (m *Manager) fail(jobID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	j.Status = model.JobStatusFailed
	j.Error = failureMessage(j.Progress, err)
	j.FinishedAt = &now
	zap.L().Error("job failed",
		zap.String("job_id", jobID),
		zap.String("phase", string(j.Progress)),
		zap.Error(err),
	)
}

// failureMessage prefixes the error with the phase that was running so the
// status endpoint tells the caller where the pipeline stopped.
func failureMessage(p model.JobProgress, err error) string {
	if p == model.ProgressNone {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", p, err.Error())
}
