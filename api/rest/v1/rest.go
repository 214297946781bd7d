// Package rest registers the versioned REST API.
package rest

import (
	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/controller/event"
	"github.com/pipewright/pipewright/api/rest/controller/jobrun"
	"github.com/pipewright/pipewright/api/rest/controller/monitoring"
	"github.com/pipewright/pipewright/api/rest/controller/task"
	"github.com/pipewright/pipewright/api/rest/controller/workflow"
	"github.com/pipewright/pipewright/api/rest/service/stats"
	ievent "github.com/pipewright/pipewright/internal/event"
	ijobrun "github.com/pipewright/pipewright/internal/jobrun"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/store"
)

// Services are the components behind the REST API.
type Services struct {
	Store     *store.Store
	Lifecycle *lifecycle.Controller
	Tracker   *ijobrun.Tracker
	Bus       ievent.Bus
	Stats     *stats.Service
	Checks    map[string]monitoring.Checker
}

// Bind the REST endpoints to the versioned endpoint group.
func Bind(g *echo.Group, svc Services) {
	workflows := workflow.New(svc.Store, svc.Lifecycle)
	tasks := task.New(svc.Store)
	jobs := jobrun.New(svc.Lifecycle, svc.Tracker)
	mon := monitoring.New(svc.Stats, svc.Checks)
	events := event.New(svc.Bus)

	// workflows
	{
		g.GET("/workflows", workflows.List)
		g.POST("/workflows", workflows.Post)
		g.POST("/workflows/import", workflows.Import)
		g.POST("/workflows/unpause-active", workflows.UnpauseActive)
		g.GET("/workflows/:id", workflows.Get)
		g.PATCH("/workflows/:id", workflows.Patch)
		g.DELETE("/workflows/:id", workflows.Delete)
		g.GET("/workflows/:id/export", workflows.Export)
		g.POST("/workflows/:id/deploy", workflows.Deploy)
		g.POST("/workflows/:id/pause", workflows.Pause)
		g.POST("/workflows/:id/unpause", workflows.Unpause)
	}

	// tasks
	{
		g.GET("/workflows/:id/tasks", tasks.List)
		g.POST("/workflows/:id/tasks", tasks.Post)
		g.GET("/tasks/:id", tasks.Get)
		g.PUT("/tasks/:id", tasks.Put)
		g.DELETE("/tasks/:id", tasks.Delete)
	}

	// jobs
	{
		g.POST("/jobs/trigger/:id", jobs.Trigger)
		g.GET("/jobs", jobs.List)
		g.GET("/jobs/:id", jobs.Get)
		g.GET("/jobs/:id/logs/:task", jobs.Logs)
	}

	// monitoring
	{
		g.GET("/monitoring/stats", mon.Stats)
		g.GET("/monitoring/health", mon.Health)
	}

	g.GET("/events", events.Stream)
}
