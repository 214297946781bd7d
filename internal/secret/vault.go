package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultConfig describes how to connect to Vault.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	CACertPath    string
	TLSSkipVerify bool
}

// Vault reads secret://vault/<path>/<field> from Vault logical paths. KV v2
// responses are unwrapped.
type Vault struct {
	logical vaultLogical
}

// NewVault builds a resolver from cfg.
func NewVault(cfg VaultConfig) (*Vault, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}

	clientConfig := &vault.Config{Address: address}
	if cfg.CACertPath != "" || cfg.TLSSkipVerify {
		if err := clientConfig.ConfigureTLS(&vault.TLSConfig{CACert: cfg.CACertPath, Insecure: cfg.TLSSkipVerify}); err != nil {
			return nil, fmt.Errorf("configure vault tls: %w", err)
		}
	}

	client, err := vault.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetToken(token)
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}

	return &Vault{logical: client.Logical()}, nil
}

func (v *Vault) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.Provider != ProviderVault {
		return "", fmt.Errorf("vault resolver cannot handle provider %q", parsed.Provider)
	}

	field := strings.TrimSpace(parsed.Query.Get("field"))
	segments := parsed.Segments
	if field == "" && len(segments) >= 2 {
		field = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	path := strings.Join(segments, "/")
	switch {
	case path == "":
		return "", fmt.Errorf("vault secret %q missing path", ref)
	case field == "":
		return "", fmt.Errorf("vault secret %q missing field", ref)
	}

	secret, err := v.logical.ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s not found", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s missing field %s", path, field)
	}
	return fmt.Sprint(value), nil
}
