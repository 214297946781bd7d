package jobrun

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/airflow"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/metrics"
	metrictestutil "github.com/pipewright/pipewright/internal/metrics/testutil"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/task"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type fakeSource struct {
	mu      sync.Mutex
	runs    map[string]*airflow.DAGRun
	logs    map[string]string
	getErr  error
	gets    int
	logReqs []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{runs: map[string]*airflow.DAGRun{}, logs: map[string]string{}}
}

func (f *fakeSource) GetRun(_ context.Context, _ string, runID string) (*airflow.DAGRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	run, ok := f.runs[runID]
	if !ok {
		return nil, &errdefs.SchedulerRejectedError{Op: "get_run", StatusCode: http.StatusNotFound, Message: "DAGRun not found"}
	}
	cp := *run
	return &cp, nil
}

func (f *fakeSource) TaskLog(_ context.Context, _ string, runID, taskID string, try int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logReqs = append(f.logReqs, taskID)
	text, ok := f.logs[runID+"/"+taskID]
	if !ok {
		return "", &errdefs.SchedulerRejectedError{Op: "task_log", StatusCode: http.StatusNotFound, Message: "log not found"}
	}
	return text, nil
}

type TrackerTestSuite struct {
	suite.Suite
	db       *gorm.DB
	store    *store.Store
	source   *fakeSource
	tracker  *Tracker
	workflow *models.Workflow
	ctx      context.Context
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (s *TrackerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.OpenTestDB(s.T())
	s.store = store.New(s.db)
	s.source = newFakeSource()
	s.tracker = New(s.db, s.source, WithTimeout(time.Second))

	wf, err := s.store.CreateWorkflow(s.ctx, store.WorkflowDraft{Name: "nightly"})
	s.Require().NoError(err)
	code := "pass"
	_, err = s.store.CreateTask(s.ctx, wf.ID, task.Draft{Name: "extract", ExecutionMode: "inline", PythonCallable: &code})
	s.Require().NoError(err)
	s.workflow = wf
}

func (s *TrackerTestSuite) TearDownTest() {
	testutil.CloseDB(s.db)
}

func (s *TrackerTestSuite) run(dagRunID string, status models.JobRunStatus, created time.Time) *models.JobRun {
	run := &models.JobRun{
		ID:          uuid.New(),
		WorkflowID:  s.workflow.ID,
		DagRunID:    dagRunID,
		Status:      status,
		TriggeredBy: models.DefaultTriggeredBy,
		CreatedAt:   created,
	}
	s.Require().NoError(s.db.Create(run).Error)
	return run
}

func (s *TrackerTestSuite) TestMapStatus() {
	cases := map[string]models.JobRunStatus{
		"queued":        models.JobRunStatusQueued,
		"RUNNING":       models.JobRunStatusRunning,
		" success ":     models.JobRunStatusSuccess,
		"failed":        models.JobRunStatusFailed,
		"up_for_retry":  models.JobRunStatusUnknown,
		"":              models.JobRunStatusUnknown,
		"skipped":       models.JobRunStatusUnknown,
		"upstream_fail": models.JobRunStatusUnknown,
	}
	for in, want := range cases {
		s.Equal(want, MapStatus(in), in)
	}
}

func (s *TrackerTestSuite) TestListNewestFirst() {
	base := time.Now().Add(-time.Hour)
	first := s.run("r1", models.JobRunStatusSuccess, base)
	second := s.run("r2", models.JobRunStatusQueued, base.Add(time.Minute))
	third := s.run("r3", models.JobRunStatusQueued, base.Add(2*time.Minute))

	runs, total, err := s.tracker.List(s.ctx, Filter{})
	s.Require().NoError(err)
	s.EqualValues(3, total)
	s.Equal([]uuid.UUID{third.ID, second.ID, first.ID}, []uuid.UUID{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, total, err = s.tracker.List(s.ctx, Filter{Status: models.JobRunStatusQueued, Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.EqualValues(2, total)
	s.Require().Len(runs, 1)
	s.Equal(second.ID, runs[0].ID)

	runs, _, err = s.tracker.List(s.ctx, Filter{WorkflowID: uuid.New()})
	s.Require().NoError(err)
	s.Empty(runs)
}

func (s *TrackerTestSuite) TestGetMissing() {
	_, err := s.tracker.Get(s.ctx, uuid.New())
	s.ErrorIs(err, errdefs.ErrNotFound)
}

func (s *TrackerTestSuite) TestSyncMirrorsScheduler() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "running", StartDate: &started}

	before := metrictestutil.CounterValue(s.T(), metrics.JobRunTransitionsTotal, "running")

	out, err := s.tracker.Sync(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.JobRunStatusRunning, out.Status)
	s.Require().NotNil(out.StartedAt)
	s.True(started.Equal(*out.StartedAt))
	s.Nil(out.EndedAt)
	s.Equal(before+1, metrictestutil.CounterValue(s.T(), metrics.JobRunTransitionsTotal, "running"))

	stored, err := s.tracker.Get(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.JobRunStatusRunning, stored.Status)
}

func (s *TrackerTestSuite) TestSyncNeverRewritesFinishedRun() {
	run := s.run("r1", models.JobRunStatusSuccess, time.Now())
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "failed"}

	out, err := s.tracker.Sync(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.JobRunStatusSuccess, out.Status)
	s.Equal(0, s.source.gets)
}

func (s *TrackerTestSuite) TestSyncUnknownState() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "restarting"}

	out, err := s.tracker.Sync(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.JobRunStatusUnknown, out.Status)
}

func (s *TrackerTestSuite) TestSyncRemoteErrorKeepsRecord() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	s.source.getErr = &errdefs.SchedulerUnreachableError{Op: "get_run", Err: context.DeadlineExceeded}

	_, err := s.tracker.Sync(s.ctx, run.ID)
	s.Require().True(errdefs.IsRetryable(err))

	stored, err := s.tracker.Get(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.JobRunStatusQueued, stored.Status)
}

func (s *TrackerTestSuite) TestSyncPending() {
	now := time.Now().UTC().Truncate(time.Second)
	start, end := now.Add(-time.Minute), now
	s.run("done", models.JobRunStatusFailed, now)
	s.run("r1", models.JobRunStatusQueued, now)
	s.run("r2", models.JobRunStatusRunning, now)
	s.run("missing", models.JobRunStatusQueued, now)
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "running", StartDate: &start}
	s.source.runs["r2"] = &airflow.DAGRun{ID: "r2", State: "success", StartDate: &start, EndDate: &end}

	synced, err := s.tracker.SyncPending(s.ctx)
	s.Equal(2, synced)
	s.Require().Error(err)
	s.ErrorIs(err, errdefs.ErrRemote)

	runs, _, err := s.tracker.List(s.ctx, Filter{Status: models.JobRunStatusSuccess})
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal("r2", runs[0].DagRunID)
	s.Require().NotNil(runs[0].EndedAt)
}

func (s *TrackerTestSuite) TestTaskLogNotStarted() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "queued"}

	_, err := s.tracker.TaskLog(s.ctx, run.ID, "extract", 1)
	s.requireReason(err, errdefs.LogsNotStarted)
	s.Empty(s.source.logReqs)
}

func (s *TrackerTestSuite) TestTaskLogUnknownTask() {
	run := s.run("r1", models.JobRunStatusRunning, time.Now())
	started := time.Now()
	s.Require().NoError(s.db.Model(run).Update("started_at", &started).Error)

	_, err := s.tracker.TaskLog(s.ctx, run.ID, "missing", 1)
	s.requireReason(err, errdefs.LogsUnknownTask)
	s.Empty(s.source.logReqs)
}

func (s *TrackerTestSuite) TestTaskLogNotFlushed() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	started := time.Now().UTC()
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "running", StartDate: &started}

	_, err := s.tracker.TaskLog(s.ctx, run.ID, "extract", 0)
	s.requireReason(err, errdefs.LogsNotFlushed)
}

func (s *TrackerTestSuite) TestTaskLogReturnsFullText() {
	run := s.run("r1", models.JobRunStatusSuccess, time.Now())
	started := time.Now()
	s.Require().NoError(s.db.Model(run).Update("started_at", &started).Error)
	s.source.logs["r1/extract"] = "line 1\nline 2\n"

	text, err := s.tracker.TaskLog(s.ctx, run.ID, "extract", 1)
	s.Require().NoError(err)
	s.Equal("line 1\nline 2\n", text)
}

func (s *TrackerTestSuite) requireReason(err error, reason string) {
	s.T().Helper()

	var unavailable *errdefs.LogsUnavailableError
	s.Require().True(errors.As(err, &unavailable), "expected LogsUnavailableError, got %v", err)
	s.Equal(reason, unavailable.Reason)
	s.ErrorIs(err, errdefs.ErrLogsUnavailable)
}

func (s *TrackerTestSuite) TestPollerStopsOnCancel() {
	run := s.run("r1", models.JobRunStatusQueued, time.Now())
	s.source.runs["r1"] = &airflow.DAGRun{ID: "r1", State: "success"}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- NewPoller(s.tracker, 20*time.Millisecond).Run(ctx) }()

	s.Eventually(func() bool {
		stored, err := s.tracker.Get(s.ctx, run.ID)
		return err == nil && stored.Status == models.JobRunStatusSuccess
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}
