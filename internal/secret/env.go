package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env resolves secret://env/<NAME> from the process environment. Path
// segments are joined with underscores; ?name= overrides them.
type Env struct{}

func (Env) Resolve(_ context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.Provider != ProviderEnv {
		return "", fmt.Errorf("env resolver cannot handle provider %q", parsed.Provider)
	}

	name := strings.TrimSpace(parsed.Query.Get("name"))
	if name == "" {
		name = strings.Join(parsed.Segments, "_")
	}
	if name == "" {
		return "", fmt.Errorf("env secret %q requires a name", ref)
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", name)
	}
	return value, nil
}
