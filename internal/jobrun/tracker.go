// Package jobrun tracks triggered workflow runs and reads their task logs
// from the scheduler.
package jobrun

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/airflow"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/log"
	"gorm.io/gorm"
)

// RunSource reads run state and logs from the scheduler.
type RunSource interface {
	GetRun(ctx context.Context, dagID, runID string) (*airflow.DAGRun, error)
	TaskLog(ctx context.Context, dagID, runID, taskID string, try int) (string, error)
}

// Tracker reads job runs and mirrors their scheduler status.
type Tracker struct {
	db      *gorm.DB
	source  RunSource
	bus     event.Bus
	timeout time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBus publishes run status changes to bus.
func WithBus(bus event.Bus) Option {
	return func(t *Tracker) {
		if bus != nil {
			t.bus = bus
		}
	}
}

// WithTimeout bounds each scheduler call.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// New constructs a tracker.
func New(db *gorm.DB, source RunSource, opts ...Option) *Tracker {
	t := &Tracker{db: db, source: source, bus: event.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Filter narrows List.
type Filter struct {
	WorkflowID uuid.UUID
	Status     models.JobRunStatus
	Limit      int
	Offset     int
}

// MapStatus converts a scheduler run state into a job run status.
func MapStatus(state string) models.JobRunStatus {
	switch s := models.JobRunStatus(strings.ToLower(strings.TrimSpace(state))); s {
	case models.JobRunStatusQueued, models.JobRunStatusRunning, models.JobRunStatusSuccess, models.JobRunStatusFailed:
		return s
	default:
		return models.JobRunStatusUnknown
	}
}

// List returns matching runs newest first and the total match count.
func (t *Tracker) List(ctx context.Context, f Filter) ([]*models.JobRun, int64, error) {
	q := t.db.WithContext(ctx).Model(&models.JobRun{})
	if f.WorkflowID != uuid.Nil {
		q = q.Where("workflow_id = ?", f.WorkflowID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("created_at DESC").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var runs []*models.JobRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Get returns a run by id.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	run := &models.JobRun{}
	if err := t.db.WithContext(ctx).First(run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errdefs.NotFoundError{Kind: "job run", ID: id.String()}
		}
		return nil, err
	}
	return run, nil
}

func (t *Tracker) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

// Sync refreshes a run from the scheduler. Finished runs are returned as
// stored and never rewritten.
func (t *Tracker) Sync(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	run, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.sync(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (t *Tracker) sync(ctx context.Context, run *models.JobRun) error {
	if run.Status.Terminal() {
		return nil
	}

	rctx, cancel := t.remote(ctx)
	defer cancel()

	remote, err := t.source.GetRun(rctx, models.DagID(run.WorkflowID), run.DagRunID)
	if err != nil {
		return err
	}

	status := MapStatus(remote.State)
	if status == run.Status && sameTime(run.StartedAt, remote.StartDate) && sameTime(run.EndedAt, remote.EndDate) {
		return nil
	}

	res := t.db.WithContext(ctx).Model(&models.JobRun{}).
		Where("id = ? AND status NOT IN ?", run.ID, []models.JobRunStatus{models.JobRunStatusSuccess, models.JobRunStatusFailed}).
		Updates(map[string]any{
			"status":     status,
			"started_at": remote.StartDate,
			"ended_at":   remote.EndDate,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// finished concurrently
		fresh, err := t.Get(ctx, run.ID)
		if err != nil {
			return err
		}
		*run = *fresh
		return nil
	}

	changed := status != run.Status
	run.Status = status
	run.StartedAt = remote.StartDate
	run.EndedAt = remote.EndDate

	if changed {
		metrics.JobRunTransitionsTotal.WithLabelValues(string(status)).Inc()
		if status.Terminal() && run.StartedAt != nil && run.EndedAt != nil {
			metrics.JobRunDurationSeconds.WithLabelValues(string(status)).Observe(run.EndedAt.Sub(*run.StartedAt).Seconds())
		}
		log.Info("job run status changed", "job_run_id", run.ID, "dag_run_id", run.DagRunID, "status", status)

		e := event.NewEvent(event.TypeRunStatus, run.WorkflowID, map[string]any{"status": status})
		e.JobRunID = run.ID
		t.bus.Publish(e)
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// SyncPending refreshes every unfinished run. A failure on one run does
// not stop the others; all failures are returned joined.
func (t *Tracker) SyncPending(ctx context.Context) (int, error) {
	var runs []*models.JobRun
	err := t.db.WithContext(ctx).
		Where("status NOT IN ?", []models.JobRunStatus{models.JobRunStatusSuccess, models.JobRunStatusFailed}).
		Order("created_at ASC").
		Find(&runs).Error
	if err != nil {
		return 0, err
	}

	var errs []error
	synced := 0
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.sync(ctx, run); err != nil {
			log.Warn("sync job run", "job_run_id", run.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// TaskLog returns the complete log of one task try of a run. try values
// below one read the first try.
func (t *Tracker) TaskLog(ctx context.Context, id uuid.UUID, taskName string, try int) (string, error) {
	run, err := t.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if run.StartedAt == nil && !run.Status.Terminal() && run.DagRunID != "" {
		if err := t.sync(ctx, run); err != nil {
			log.Warn("refresh job run before reading logs", "job_run_id", run.ID, "error", err)
		}
	}
	if run.StartedAt == nil || run.DagRunID == "" {
		return "", &errdefs.LogsUnavailableError{JobRunID: id.String(), Task: taskName, Reason: errdefs.LogsNotStarted}
	}

	var count int64
	if err := t.db.WithContext(ctx).Model(&models.Task{}).
		Where("workflow_id = ? AND name = ?", run.WorkflowID, taskName).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", &errdefs.LogsUnavailableError{JobRunID: id.String(), Task: taskName, Reason: errdefs.LogsUnknownTask}
	}

	if try < 1 {
		try = 1
	}

	rctx, cancel := t.remote(ctx)
	defer cancel()

	text, err := t.source.TaskLog(rctx, models.DagID(run.WorkflowID), run.DagRunID, taskName, try)
	if err != nil {
		var rejected *errdefs.SchedulerRejectedError
		if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
			return "", &errdefs.LogsUnavailableError{JobRunID: id.String(), Task: taskName, Reason: errdefs.LogsNotFlushed}
		}
		return "", err
	}
	return text, nil
}
