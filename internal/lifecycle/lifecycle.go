// Package lifecycle moves workflows through deployment on the scheduler
// and starts their runs. Local state only changes after the scheduler has
// acknowledged a request.
package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/airflow"
	"github.com/pipewright/pipewright/internal/dagfile"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/pkg/jsonmap"
	"github.com/pipewright/pipewright/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Scheduler is the remote DAG scheduler.
type Scheduler interface {
	Register(ctx context.Context, dagID string, source []byte) (*airflow.DAG, error)
	Unregister(ctx context.Context, dagID string) error
	SetPaused(ctx context.Context, dagID string, paused bool) (*airflow.DAG, error)
	Trigger(ctx context.Context, dagID string, conf map[string]any) (*airflow.DAGRun, error)
	GetRun(ctx context.Context, dagID, runID string) (*airflow.DAGRun, error)
	TaskLog(ctx context.Context, dagID, runID, taskID string, try int) (string, error)
	Health(ctx context.Context) error
}

// RevisionResolver picks the commit each git task of a new run executes.
type RevisionResolver interface {
	Revisions(ctx context.Context, tasks []*models.Task) map[string]string
}

// Config tunes the controller.
type Config struct {
	// PausedAtCreation is the state assumed for a first deploy when the
	// scheduler has not parsed the DAG yet.
	PausedAtCreation bool
	// UnpauseConcurrency bounds UnpauseAllActive.
	UnpauseConcurrency int
	// Timeout bounds each scheduler call. Zero leaves calls bounded by the
	// scheduler client alone.
	Timeout time.Duration
}

// Controller drives deploy, pause, unpause and trigger.
type Controller struct {
	store     *store.Store
	scheduler Scheduler
	revisions RevisionResolver
	bus       event.Bus
	cfg       Config
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus publishes lifecycle events to bus.
func WithBus(bus event.Bus) Option {
	return func(c *Controller) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// WithRevisionResolver sets the resolver used by Trigger.
func WithRevisionResolver(r RevisionResolver) Option {
	return func(c *Controller) {
		if r != nil {
			c.revisions = r
		}
	}
}

// New constructs a controller.
func New(s *store.Store, scheduler Scheduler, cfg Config, opts ...Option) *Controller {
	if cfg.UnpauseConcurrency <= 0 {
		cfg.UnpauseConcurrency = 4
	}
	c := &Controller{
		store:     s,
		scheduler: scheduler,
		revisions: pinnedOnly{},
		bus:       event.Nop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Controller) publish(e event.Event) {
	c.bus.Publish(e)
}

// Deploy compiles the workflow and registers it with the scheduler. The
// task set is checked locally before anything is sent.
func (c *Controller) Deploy(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	unlock := c.store.Lock(id)
	defer unlock()

	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(wf.Tasks) == 0 {
		return nil, &errdefs.EmptyWorkflowError{WorkflowID: id.String()}
	}
	if err := graph.Validate(graph.Nodes(wf.Tasks)); err != nil {
		return nil, &errdefs.GraphInvalidError{Err: err}
	}

	source, err := dagfile.Compile(wf, dagfile.Options{PausedAtCreation: c.cfg.PausedAtCreation})
	if err != nil {
		return nil, err
	}

	rctx, cancel := c.remote(ctx)
	defer cancel()

	dag, err := c.scheduler.Register(rctx, wf.DagID(), source)
	if err != nil {
		return nil, err
	}

	state := wf.DeployState
	switch {
	case dag.Paused != nil:
		state = models.DeployStateFromPaused(*dag.Paused)
	case !state.Deployed():
		state = models.DeployStateFromPaused(c.cfg.PausedAtCreation)
	}

	if err := c.store.SetDeployState(ctx, id, state); err != nil {
		return nil, err
	}
	wf.DeployState = state

	log.Info("deployed workflow", "id", id, "dag_id", wf.DagID(), "state", state)
	c.publish(event.NewEvent(event.TypeWorkflowDeployed, id, map[string]any{"dag_id": wf.DagID(), "is_paused_in_airflow": state}))

	return wf, nil
}

// Pause pauses a deployed workflow on the scheduler.
func (c *Controller) Pause(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	unlock := c.store.Lock(id)
	defer unlock()

	return c.setPaused(ctx, id, true)
}

// Unpause unpauses a deployed workflow on the scheduler.
func (c *Controller) Unpause(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	unlock := c.store.Lock(id)
	defer unlock()

	return c.setPaused(ctx, id, false)
}

func (c *Controller) setPaused(ctx context.Context, id uuid.UUID, paused bool) (*models.Workflow, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.DeployState.Deployed() {
		return nil, &errdefs.NotDeployedError{WorkflowID: id.String()}
	}

	rctx, cancel := c.remote(ctx)
	defer cancel()

	dag, err := c.scheduler.SetPaused(rctx, wf.DagID(), paused)
	if err != nil {
		return nil, err
	}

	acked := paused
	if dag.Paused != nil {
		acked = *dag.Paused
	}
	state := models.DeployStateFromPaused(acked)
	if err := c.store.SetDeployState(ctx, id, state); err != nil {
		return nil, err
	}
	wf.DeployState = state

	typ := event.TypeWorkflowUnpaused
	if acked {
		typ = event.TypeWorkflowPaused
	}
	log.Info("changed workflow pause state", "id", id, "state", state)
	c.publish(event.NewEvent(typ, id, map[string]any{"is_paused_in_airflow": state}))

	return wf, nil
}

// BatchFailure is one workflow that UnpauseAllActive could not unpause.
type BatchFailure struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Name       string    `json:"name"`
	Error      string    `json:"error"`

	Err error `json:"-"`
}

// BatchResult reports the outcome of UnpauseAllActive.
type BatchResult struct {
	Succeeded []uuid.UUID    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// UnpauseAllActive unpauses every active workflow concurrently. Failures
// are collected per workflow and never abort the batch.
func (c *Controller) UnpauseAllActive(ctx context.Context) (*BatchResult, error) {
	active := true
	workflows, err := c.store.ListWorkflows(ctx, store.ListFilter{IsActive: &active})
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = &BatchResult{Succeeded: []uuid.UUID{}, Failed: []BatchFailure{}}
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.UnpauseConcurrency)

	for _, wf := range workflows {
		wf := wf
		g.Go(func() error {
			_, err := c.Unpause(ctx, wf.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("unpause failed", "id", wf.ID, "name", wf.Name, "error", err)
				metrics.UnpauseBatchResultsTotal.WithLabelValues("failed").Inc()
				result.Failed = append(result.Failed, BatchFailure{WorkflowID: wf.ID, Name: wf.Name, Error: err.Error(), Err: err})
				return nil
			}
			metrics.UnpauseBatchResultsTotal.WithLabelValues("succeeded").Inc()
			result.Succeeded = append(result.Succeeded, wf.ID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Succeeded, func(i, j int) bool { return result.Succeeded[i].String() < result.Succeeded[j].String() })
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Name < result.Failed[j].Name })

	log.Info("unpaused active workflows", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, nil
}

// TriggerOptions describe a run request.
type TriggerOptions struct {
	TriggeredBy string
	// Conf is passed to the run as-is, except for the reserved "revisions"
	// key which always carries the resolved commits.
	Conf map[string]any
}

// Trigger starts a run of an active, deployed workflow and records it as
// queued. Nothing is recorded when the scheduler refuses the run. A paused
// DAG is not unpaused; its run waits queued in the scheduler.
func (c *Controller) Trigger(ctx context.Context, id uuid.UUID, opts TriggerOptions) (*models.JobRun, error) {
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = models.DefaultTriggeredBy
	}

	run, err := c.trigger(ctx, id, opts)
	metrics.WorkflowTriggersTotal.WithLabelValues(opts.TriggeredBy, outcome(err)).Inc()
	return run, err
}

func (c *Controller) trigger(ctx context.Context, id uuid.UUID, opts TriggerOptions) (*models.JobRun, error) {
	unlock := c.store.Lock(id)
	defer unlock()

	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, &errdefs.InactiveWorkflowError{WorkflowID: id.String()}
	}
	if !wf.DeployState.Deployed() {
		return nil, &errdefs.NotDeployedError{WorkflowID: id.String()}
	}

	revisions := c.revisions.Revisions(ctx, wf.Tasks)

	conf := make(map[string]any, len(opts.Conf)+1)
	for k, v := range opts.Conf {
		conf[k] = v
	}
	delete(conf, "revisions")
	if len(revisions) > 0 {
		conf["revisions"] = revisions
	}

	rctx, cancel := c.remote(ctx)
	defer cancel()

	dagRun, err := c.scheduler.Trigger(rctx, wf.DagID(), conf)
	if err != nil {
		return nil, err
	}

	jr := &models.JobRun{
		ID:          uuid.New(),
		WorkflowID:  id,
		DagRunID:    dagRun.ID,
		Status:      models.JobRunStatusQueued,
		TriggeredBy: opts.TriggeredBy,
		Revisions:   jsonmap.FromStringMap(revisions),
	}
	if err := c.store.DB().WithContext(ctx).Create(jr).Error; err != nil {
		return nil, err
	}

	log.Info("triggered workflow", "id", id, "job_run_id", jr.ID, "dag_run_id", jr.DagRunID, "triggered_by", jr.TriggeredBy)
	e := event.NewEvent(event.TypeRunTriggered, id, jr)
	e.JobRunID = jr.ID
	c.publish(e)

	return jr, nil
}

// Delete removes the workflow's DAG file and then the workflow itself.
// Job runs are kept. The workflow lock is held throughout so a concurrent
// Deploy cannot register the DAG again in between.
func (c *Controller) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := c.store.Lock(id)
	defer unlock()

	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}

	rctx, cancel := c.remote(ctx)
	defer cancel()

	if err := c.scheduler.Unregister(rctx, wf.DagID()); err != nil {
		return err
	}
	return c.store.DeleteWorkflowLocked(ctx, id)
}

// Health reports whether the scheduler is reachable and healthy.
func (c *Controller) Health(ctx context.Context) error {
	rctx, cancel := c.remote(ctx)
	defer cancel()

	return c.scheduler.Health(rctx)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errdefs.IsRetryable(err):
		return metrics.OutcomeUnreachable
	case errors.Is(err, errdefs.ErrRemote):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeInvalid
	}
}

type pinnedOnly struct{}

// Revisions records pinned commits only; unpinned tasks follow their branch.
func (pinnedOnly) Revisions(_ context.Context, tasks []*models.Task) map[string]string {
	out := map[string]string{}
	for _, t := range tasks {
		if t.Pinned() {
			out[t.Name] = *t.GitCommitSHA
		}
	}
	return out
}
