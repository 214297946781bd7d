// Package airflow talks to an Airflow-compatible scheduler over its stable
// REST API and publishes compiled DAG files into the shared DAGs folder.
package airflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/pkg/log"
)

// Config holds the connection settings for the scheduler.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	DagsFolder string
}

// DAG is the scheduler's view of a registered DAG. Paused is nil when the
// scheduler has not parsed the DAG file yet.
type DAG struct {
	ID     string `json:"dag_id"`
	Paused *bool  `json:"is_paused"`
}

// DAGRun is one run of a DAG.
type DAGRun struct {
	ID        string     `json:"dag_run_id"`
	State     string     `json:"state"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *apiError) message() string {
	switch {
	case e == nil:
		return ""
	case e.Detail != "":
		return e.Detail
	default:
		return e.Title
	}
}

// Client implements the scheduler operations against Airflow.
type Client struct {
	rest       *resty.Client
	baseURL    string
	dagsFolder string
}

// New constructs a client from the provided configuration.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	rest := resty.New().
		SetBaseURL(base).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{rest: rest, baseURL: base, dagsFolder: cfg.DagsFolder}
}

// FileName returns the DAG file name for a DAG id.
func FileName(dagID string) string {
	return dagID + ".py"
}

// do runs a request and converts transport failures and error responses
// into the remote error taxonomy.
func (c *Client) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	resp, err := send(c.rest.R().SetContext(ctx).SetError(&apiError{}))
	metrics.SchedulerCallDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SchedulerCallsTotal.WithLabelValues(op, metrics.OutcomeUnreachable).Inc()
		log.Warn("scheduler unreachable", "operation", op, "error", err)
		return nil, &errdefs.SchedulerUnreachableError{Op: op, Err: err}
	}

	if resp.IsError() {
		metrics.SchedulerCallsTotal.WithLabelValues(op, metrics.OutcomeRejected).Inc()
		msg := ""
		if apiErr, ok := resp.Error().(*apiError); ok {
			msg = apiErr.message()
		}
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return resp, &errdefs.SchedulerRejectedError{Op: op, StatusCode: resp.StatusCode(), Message: msg}
	}

	metrics.SchedulerCallsTotal.WithLabelValues(op, metrics.OutcomeOK).Inc()
	return resp, nil
}

func dagPath(dagID string, rest ...string) string {
	parts := []string{"/dags", url.PathEscape(dagID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var rejected *errdefs.SchedulerRejectedError
	return errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound
}

// Register writes the DAG source into the DAGs folder and reads back the
// DAG's pause flag. The file is replaced atomically so the scheduler never
// parses a partial module.
func (c *Client) Register(ctx context.Context, dagID string, source []byte) (*DAG, error) {
	if err := writeAtomic(c.dagsFolder, FileName(dagID), source); err != nil {
		return nil, fmt.Errorf("write dag file: %w", err)
	}

	dag, err := c.GetDAG(ctx, dagID)
	if isNotFound(err) {
		log.Info("dag not parsed by scheduler yet", "dag_id", dagID)
		return &DAG{ID: dagID}, nil
	}
	return dag, err
}

// Unregister removes the DAG file. A missing file is not an error.
func (c *Client) Unregister(ctx context.Context, dagID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(c.dagsFolder, FileName(dagID)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// GetDAG returns the scheduler's record of a DAG.
func (c *Client) GetDAG(ctx context.Context, dagID string) (*DAG, error) {
	dag := &DAG{}
	_, err := c.do(ctx, "get_dag", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(dag).Get(dagPath(dagID))
	})
	if err != nil {
		return nil, err
	}
	return dag, nil
}

// SetPaused pauses or unpauses a DAG and returns the acknowledged state.
func (c *Client) SetPaused(ctx context.Context, dagID string, paused bool) (*DAG, error) {
	dag := &DAG{}
	_, err := c.do(ctx, "set_paused", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetQueryParam("update_mask", "is_paused").
			SetBody(map[string]bool{"is_paused": paused}).
			SetResult(dag).
			Patch(dagPath(dagID))
	})
	if err != nil {
		return nil, err
	}
	if dag.Paused == nil {
		dag.Paused = &paused
	}
	if dag.ID == "" {
		dag.ID = dagID
	}
	return dag, nil
}

// Trigger starts a DAG run with the given conf.
func (c *Client) Trigger(ctx context.Context, dagID string, conf map[string]any) (*DAGRun, error) {
	if conf == nil {
		conf = map[string]any{}
	}

	run := &DAGRun{}
	_, err := c.do(ctx, "trigger", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetBody(map[string]any{"conf": conf}).
			SetResult(run).
			Post(dagPath(dagID, "dagRuns"))
	})
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, &errdefs.SchedulerRejectedError{Op: "trigger", StatusCode: http.StatusOK, Message: "response did not include dag_run_id"}
	}
	return run, nil
}

// GetRun returns the current state of a DAG run.
func (c *Client) GetRun(ctx context.Context, dagID, runID string) (*DAGRun, error) {
	run := &DAGRun{}
	_, err := c.do(ctx, "get_run", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(run).Get(dagPath(dagID, "dagRuns", runID))
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// TaskLog returns the complete log of one task try.
func (c *Client) TaskLog(ctx context.Context, dagID, runID, taskID string, try int) (string, error) {
	resp, err := c.do(ctx, "task_log", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetHeader("Accept", "text/plain").
			SetQueryParam("full_content", "true").
			Get(dagPath(dagID, "dagRuns", runID, "taskInstances", taskID, "logs", fmt.Sprint(try)))
	})
	if err != nil {
		return "", err
	}
	return string(resp.Body()), nil
}

type healthResponse struct {
	Metadatabase struct {
		Status string `json:"status"`
	} `json:"metadatabase"`
	Scheduler struct {
		Status string `json:"status"`
	} `json:"scheduler"`
}

// Health checks the webserver health endpoint, which lives outside the
// versioned API root.
func (c *Client) Health(ctx context.Context) error {
	healthURL := strings.TrimSuffix(c.baseURL, "/api/v1") + "/health"

	health := &healthResponse{}
	resp, err := c.do(ctx, "health", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(health).Get(healthURL)
	})
	if err != nil {
		return err
	}

	components := []struct{ name, status string }{
		{"metadatabase", health.Metadatabase.Status},
		{"scheduler", health.Scheduler.Status},
	}
	for _, comp := range components {
		if comp.status != "" && comp.status != "healthy" {
			return &errdefs.SchedulerRejectedError{
				Op:         "health",
				StatusCode: resp.StatusCode(),
				Message:    fmt.Sprintf("%s is %s", comp.name, comp.status),
			}
		}
	}
	return nil
}
