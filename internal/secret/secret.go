// Package secret resolves secret:// references used in configuration, such
// as the scheduler password and git credentials, against the configured
// providers.
package secret

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const scheme = "secret"

// Provider names accepted as the host of a reference.
const (
	ProviderEnv        = "env"
	ProviderVault      = "vault"
	ProviderKubernetes = "k8s"
)

// Resolver resolves a secret reference into a concrete value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Reference is a parsed secret://<provider>/<path>?<query> URI.
type Reference struct {
	Raw      string
	Provider string
	Segments []string
	Query    url.Values
}

// IsReference reports whether value uses the secret:// scheme.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), scheme+"://")
}

// Parse converts a secret:// URI into a Reference.
func Parse(ref string) (*Reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse secret reference %q: %w", ref, err)
	}
	if u.Scheme != scheme {
		return nil, fmt.Errorf("invalid secret scheme %q", u.Scheme)
	}

	provider := strings.ToLower(strings.TrimSpace(u.Host))
	if provider == "" {
		return nil, fmt.Errorf("secret reference %q missing provider", ref)
	}

	var segments []string
	if path := strings.Trim(u.Path, "/"); path != "" {
		segments = strings.Split(path, "/")
	}

	return &Reference{Raw: ref, Provider: provider, Segments: segments, Query: u.Query()}, nil
}

// Value returns value unchanged unless it is a secret:// reference, in
// which case the referenced secret is returned.
func Value(ctx context.Context, r Resolver, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if r == nil {
		return "", fmt.Errorf("secret resolver not configured for %q", value)
	}
	resolved, err := r.Resolve(ctx, value)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", value, err)
	}
	return resolved, nil
}

// Multi dispatches references to provider resolvers by the URI host.
type Multi struct {
	providers map[string]Resolver
}

// NewMulti constructs a Multi seeded with providers.
func NewMulti(providers map[string]Resolver) *Multi {
	m := &Multi{providers: make(map[string]Resolver, len(providers))}
	for k, v := range providers {
		m.Register(k, v)
	}
	return m
}

// Register associates a provider name with a resolver, replacing any
// existing one.
func (m *Multi) Register(provider string, r Resolver) {
	m.providers[strings.ToLower(strings.TrimSpace(provider))] = r
}

// Providers returns the sorted provider names.
func (m *Multi) Providers() []string {
	keys := make([]string, 0, len(m.providers))
	for k := range m.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Multi) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("secret reference is empty")
	}

	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	r, ok := m.providers[parsed.Provider]
	if !ok || r == nil {
		return "", fmt.Errorf("secret provider %q not configured", parsed.Provider)
	}
	return r.Resolve(ctx, ref)
}

// Config selects the providers available to New.
type Config struct {
	EnableEnv  bool
	Kubernetes *KubernetesConfig
	Vault      *VaultConfig
}

// New builds a Multi from cfg.
func New(cfg Config) (*Multi, error) {
	m := NewMulti(nil)

	if cfg.EnableEnv {
		m.Register(ProviderEnv, Env{})
	}

	if cfg.Kubernetes != nil {
		k := NewKubernetes(*cfg.Kubernetes)
		m.Register(ProviderKubernetes, k)
		m.Register("kubernetes", k)
	}

	if cfg.Vault != nil {
		v, err := NewVault(*cfg.Vault)
		if err != nil {
			return nil, err
		}
		m.Register(ProviderVault, v)
	}

	return m, nil
}
