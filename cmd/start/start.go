package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/pipewright/pipewright/api"
	"github.com/pipewright/pipewright/api/rest/controller/monitoring"
	"github.com/pipewright/pipewright/api/rest/service/stats"
	rest "github.com/pipewright/pipewright/api/rest/v1"
	"github.com/pipewright/pipewright/internal/definition/gitsync"
	"github.com/pipewright/pipewright/internal/jobrun"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/runtime"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a pipewright server"
	long    = "This command starts the pipewright API, the job run poller and any configured definition git syncs"
	example = "pipewright start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "serve"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				cancel()
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	metrics.Register()

	vars := env.Variables()
	svc, err := runtime.Build(ctx, vars, db.Connection())
	if err != nil {
		log.Fatal("service configuration failure", "error", err)
	}

	watches := runtime.BuildGitWatches(vars, svc.Resolver)

	errs := make(chan error, len(watches)+2)

	for _, watch := range watches {
		go func() {
			log.Info("starting definition git sync", "url", watch.Source.URL, "ref", watch.Source.Ref, "once", watch.Once, "interval", watch.Interval)
			opts := gitsync.WatchOptions{Source: watch.Source, Interval: watch.Interval, Once: watch.Once}
			if err := gitsync.Watch(ctx, svc.Store, opts); err != nil && ctx.Err() == nil {
				log.Error("definition git sync exited", "url", watch.Source.URL, "error", err)
				errs <- err
			}
		}()
	}

	if vars.RunPollInterval > 0 {
		go func() {
			log.Info("starting job run poller", "interval", vars.RunPollInterval)
			if err := jobrun.NewPoller(svc.Tracker, vars.RunPollInterval).Run(ctx); err != nil && ctx.Err() == nil {
				errs <- err
			}
		}()
	}

	e := api.New(rest.Services{
		Store:     svc.Store,
		Lifecycle: svc.Lifecycle,
		Tracker:   svc.Tracker,
		Bus:       svc.Bus,
		Stats:     stats.New(svc.DB),
		Checks: map[string]monitoring.Checker{
			"database":  func(context.Context) error { return db.Ping(svc.DB) },
			"scheduler": svc.Lifecycle.Health,
		},
	})

	go func() {
		log.Info("spinning up api")
		errs <- api.Start(ctx, e, vars.Port)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		// let the api finish draining
		if err := <-errs; err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}
