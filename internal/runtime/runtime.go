// Package runtime assembles the long-lived services of a pipewright
// process from its environment.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pipewright/pipewright/internal/airflow"
	"github.com/pipewright/pipewright/internal/definition/gitsync"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/gitref"
	"github.com/pipewright/pipewright/internal/jobrun"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/secret"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/pkg/env"
	"gorm.io/gorm"
)

// Watch encapsulates the configuration required to start a git sync watcher.
type Watch struct {
	Source   gitsync.Source
	Interval time.Duration
	Once     bool
}

// Services is the wired set of components shared by the server and the CLI.
type Services struct {
	DB        *gorm.DB
	Bus       event.Bus
	Store     *store.Store
	Scheduler *airflow.Client
	Lifecycle *lifecycle.Controller
	Tracker   *jobrun.Tracker
	Resolver  *secret.Multi
}

// BuildSecretResolver constructs the resolver chain based on environment variables.
func BuildSecretResolver(vars env.Environment) (*secret.Multi, error) {
	cfg := secret.Config{EnableEnv: vars.SecretEnableEnv}

	if vars.KubernetesConfig != "" || (vars.KubernetesNamespace != "" && vars.KubernetesNamespace != "default") {
		cfg.Kubernetes = &secret.KubernetesConfig{
			KubeConfigPath: vars.KubernetesConfig,
			Namespace:      vars.KubernetesNamespace,
		}
	}

	if strings.TrimSpace(vars.VaultAddress) != "" {
		cfg.Vault = &secret.VaultConfig{
			Address:       vars.VaultAddress,
			Token:         vars.VaultToken,
			Namespace:     vars.VaultNamespace,
			CACertPath:    vars.VaultCACert,
			TLSSkipVerify: vars.VaultSkipVerify,
		}
	}

	return secret.New(cfg)
}

// BuildScheduler returns an Airflow client, resolving a secret:// password.
func BuildScheduler(ctx context.Context, vars env.Environment, resolver secret.Resolver) (*airflow.Client, error) {
	password, err := secret.Value(ctx, resolver, vars.AirflowPassword)
	if err != nil {
		return nil, fmt.Errorf("airflow password: %w", err)
	}

	return airflow.New(airflow.Config{
		BaseURL:    vars.AirflowAPIURL,
		Username:   vars.AirflowUsername,
		Password:   password,
		Timeout:    vars.SchedulerTimeout,
		DagsFolder: vars.DagsFolder,
	}), nil
}

// Build wires every service on top of gdb.
func Build(ctx context.Context, vars env.Environment, gdb *gorm.DB) (*Services, error) {
	resolver, err := BuildSecretResolver(vars)
	if err != nil {
		return nil, err
	}

	scheduler, err := BuildScheduler(ctx, vars, resolver)
	if err != nil {
		return nil, err
	}

	bus := event.New()
	st := store.New(gdb, store.WithBus(bus))
	lc := lifecycle.New(st, scheduler, lifecycle.Config{
		PausedAtCreation:   vars.DagsPausedAtCreation,
		UnpauseConcurrency: vars.UnpauseConcurrency,
		Timeout:            vars.SchedulerTimeout,
	}, lifecycle.WithBus(bus), lifecycle.WithRevisionResolver(gitref.New(vars.GitTimeout)))

	return &Services{
		DB:        gdb,
		Bus:       bus,
		Store:     st,
		Scheduler: scheduler,
		Lifecycle: lc,
		Tracker:   jobrun.New(gdb, scheduler, jobrun.WithBus(bus), jobrun.WithTimeout(vars.SchedulerTimeout)),
		Resolver:  resolver,
	}, nil
}

// BuildGitWatches turns the configured definition sources into watches.
// Sources are validated when the environment is decoded.
func BuildGitWatches(vars env.Environment, resolver secret.Resolver) []Watch {
	if len(vars.DefinitionGitSources) == 0 {
		return nil
	}

	watches := make([]Watch, 0, len(vars.DefinitionGitSources))
	for _, cfg := range vars.DefinitionGitSources {
		source := gitsync.Source{
			URL:      cfg.URL,
			Ref:      cfg.Ref,
			Path:     cfg.Path,
			Globs:    cfg.Globs,
			SourceID: cfg.ID,
			LocalDir: cfg.Checkout,
			Resolver: resolver,
		}

		if cfg.Auth != nil {
			source.Auth = &gitsync.BasicAuth{
				Username:    cfg.Auth.Username,
				Password:    cfg.Auth.Password,
				UsernameRef: cfg.Auth.UsernameRef,
				PasswordRef: cfg.Auth.PasswordRef,
			}
		}

		if cfg.SSH != nil {
			source.SSH = &gitsync.SSHAuth{
				Username:        cfg.SSH.Username,
				UsernameRef:     cfg.SSH.UsernameRef,
				PrivateKey:      cfg.SSH.PrivateKey,
				PrivateKeyRef:   cfg.SSH.PrivateKeyRef,
				Passphrase:      cfg.SSH.Passphrase,
				PassphraseRef:   cfg.SSH.PassphraseRef,
				KnownHosts:      cfg.SSH.KnownHosts,
				KnownHostsRef:   cfg.SSH.KnownHostsRef,
				KnownHostsPaths: cfg.SSH.KnownHostsFiles(),
			}
		}

		watches = append(watches, Watch{
			Source:   source,
			Interval: cfg.Every(vars.DefinitionGitInterval),
			Once:     cfg.RunOnce(vars.DefinitionGitOnce),
		})
	}

	return watches
}
