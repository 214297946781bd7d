package env

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
)

const prefix = "pipewright"

var variables = new(Environment)

// Process the environment variables set for pipewright.
func Process() error {
	if err := envconfig.Process(prefix, variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by pipewright.
type Environment struct {
	LogLevel     string `default:"info" split_words:"true"`
	Port         int    `default:"8080"`
	DatabaseType string `default:"postgres" split_words:"true"`
	DatabaseDSN  string `default:"host=postgres user=airflow password=airflow dbname=pipewright port=5432 sslmode=disable" split_words:"true"`

	// Airflow REST API and the DAG folder shared with its scheduler.
	AirflowAPIURL        string        `default:"http://airflow-webserver:8080/api/v1" envconfig:"AIRFLOW_API_URL"`
	AirflowUsername      string        `default:"admin" split_words:"true"`
	AirflowPassword      string        `default:"admin" split_words:"true"` // may be a secret:// reference
	DagsFolder           string        `default:"/opt/airflow/dags" split_words:"true"`
	DagsPausedAtCreation bool          `default:"true" split_words:"true"`
	SchedulerTimeout     time.Duration `default:"30s" split_words:"true"`
	UnpauseConcurrency   int           `default:"4" split_words:"true"`
	RunPollInterval      time.Duration `default:"30s" split_words:"true"` // 0 disables the poller
	GitTimeout           time.Duration `default:"20s" split_words:"true"`

	DefinitionGitSources  DefinitionSources `default:"" split_words:"true"`
	DefinitionGitInterval time.Duration     `default:"1m" split_words:"true"`
	DefinitionGitOnce     bool              `default:"false" split_words:"true"`

	SecretEnableEnv     bool   `default:"true" split_words:"true"`
	KubernetesConfig    string `default:"" split_words:"true"`
	KubernetesNamespace string `default:"default" split_words:"true"`
	VaultAddress        string `default:"" split_words:"true"`
	VaultToken          string `default:"" split_words:"true"`
	VaultNamespace      string `default:"" split_words:"true"`
	VaultCACert         string `default:"" envconfig:"VAULT_CACERT"`
	VaultSkipVerify     bool   `default:"false" split_words:"true"`
}

// DefinitionSources lists the git repositories workflow definition
// documents are synced from, given as a JSON array. Every entry needs a
// url; unknown keys are rejected.
type DefinitionSources []DefinitionSource

// Decode implements envconfig.Decoder.
func (d *DefinitionSources) Decode(value string) error {
	if strings.TrimSpace(value) == "" {
		*d = nil
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(value))
	dec.DisallowUnknownFields()

	var sources []DefinitionSource
	if err := dec.Decode(&sources); err != nil {
		return errors.Wrap(err, "decode definition git sources")
	}
	for i, src := range sources {
		if strings.TrimSpace(src.URL) == "" {
			return errors.Errorf("definition git source %d: missing url", i)
		}
	}

	*d = sources
	return nil
}

// DefinitionSource is one repository of workflow definition documents. ID
// names the checkout directory when Checkout is empty.
type DefinitionSource struct {
	URL      string            `json:"url"`
	Ref      string            `json:"ref,omitempty"`
	Path     string            `json:"path,omitempty"`
	Globs    []string          `json:"globs,omitempty"`
	ID       string            `json:"source_id,omitempty"`
	Checkout string            `json:"local_dir,omitempty"`
	Interval Interval          `json:"interval,omitempty"`
	Once     *bool             `json:"once,omitempty"`
	Auth     *BasicCredentials `json:"auth,omitempty"`
	SSH      *SSHCredentials   `json:"ssh,omitempty"`
}

// Every returns the source's sync interval, or fallback when it has none.
func (s DefinitionSource) Every(fallback time.Duration) time.Duration {
	if s.Interval == 0 {
		return fallback
	}
	return time.Duration(s.Interval)
}

// RunOnce reports whether the source is synced a single time.
func (s DefinitionSource) RunOnce(fallback bool) bool {
	if s.Once == nil {
		return fallback
	}
	return *s.Once
}

// Interval is a positive duration written as a Go duration string, e.g. "90s".
type Interval time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (i *Interval) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "interval must be a duration string")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*i = 0
		return nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "parse interval %q", raw)
	}
	if d <= 0 {
		return errors.Errorf("interval %q must be positive", raw)
	}
	*i = Interval(d)
	return nil
}

// BasicCredentials authenticate HTTPS clones. The *Ref fields hold
// secret:// references resolved at sync time.
type BasicCredentials struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	UsernameRef string `json:"username_ref,omitempty"`
	PasswordRef string `json:"password_ref,omitempty"`
}

// SSHCredentials authenticate SSH clones.
type SSHCredentials struct {
	Username        string   `json:"username,omitempty"`
	UsernameRef     string   `json:"username_ref,omitempty"`
	PrivateKey      string   `json:"private_key,omitempty"`
	PrivateKeyRef   string   `json:"private_key_ref,omitempty"`
	Passphrase      string   `json:"passphrase,omitempty"`
	PassphraseRef   string   `json:"passphrase_ref,omitempty"`
	KnownHosts      string   `json:"known_hosts,omitempty"`
	KnownHostsRef   string   `json:"known_hosts_ref,omitempty"`
	KnownHostsPath  string   `json:"known_hosts_path,omitempty"`
	KnownHostsPaths []string `json:"known_hosts_paths,omitempty"`
}

// KnownHostsFiles merges known_hosts_path into known_hosts_paths, dropping
// blanks and repeats.
func (c SSHCredentials) KnownHostsFiles() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range append([]string{c.KnownHostsPath}, c.KnownHostsPaths...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
