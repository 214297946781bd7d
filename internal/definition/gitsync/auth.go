package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	sshauth "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/skeema/knownhosts"
)

// BasicAuth holds HTTPS credentials. The *Ref fields are secret://
// references used when the literal value is empty.
type BasicAuth struct {
	Username    string
	Password    string
	UsernameRef string
	PasswordRef string
}

// SSHAuth holds SSH credentials and the known_hosts sources that pin the
// remote host key.
type SSHAuth struct {
	Username        string
	UsernameRef     string
	PrivateKey      string
	PrivateKeyRef   string
	Passphrase      string
	PassphraseRef   string
	KnownHosts      string
	KnownHostsRef   string
	KnownHostsPaths []string
}

func (s *Source) authMethod(ctx context.Context) (transport.AuthMethod, func(), error) {
	noop := func() {}
	switch {
	case s.SSH != nil:
		return s.sshAuth(ctx)
	case s.Auth != nil:
		auth, err := s.basicAuth(ctx)
		if auth == nil || err != nil {
			return nil, noop, err
		}
		return auth, noop, nil
	default:
		return nil, noop, nil
	}
}

func (s *Source) basicAuth(ctx context.Context) (*httpauth.BasicAuth, error) {
	username, err := s.valueOrRef(ctx, s.Auth.Username, s.Auth.UsernameRef)
	if err != nil {
		return nil, err
	}
	password, err := s.valueOrRef(ctx, s.Auth.Password, s.Auth.PasswordRef)
	if err != nil {
		return nil, err
	}

	username = strings.TrimSpace(username)
	if username == "" && strings.TrimSpace(password) == "" {
		return nil, nil
	}
	return &httpauth.BasicAuth{Username: username, Password: password}, nil
}

func (s *Source) sshAuth(ctx context.Context) (transport.AuthMethod, func(), error) {
	noop := func() {}

	username, err := s.valueOrRef(ctx, s.SSH.Username, s.SSH.UsernameRef)
	if err != nil {
		return nil, noop, err
	}
	if username = strings.TrimSpace(username); username == "" {
		username = sshauth.DefaultUsername
	}

	privateKey, err := s.valueOrRef(ctx, s.SSH.PrivateKey, s.SSH.PrivateKeyRef)
	if err != nil {
		return nil, noop, err
	}
	if strings.TrimSpace(privateKey) == "" {
		return nil, noop, errors.New("ssh private key is required")
	}

	passphrase, err := s.valueOrRef(ctx, s.SSH.Passphrase, s.SSH.PassphraseRef)
	if err != nil {
		return nil, noop, err
	}

	keys, err := sshauth.NewPublicKeys(username, []byte(privateKey), passphrase)
	if err != nil {
		return nil, noop, err
	}

	endpoint, err := transport.NewEndpoint(s.URL)
	if err != nil {
		return nil, noop, err
	}

	callback, cleanup, err := s.hostKeyCallback(ctx, endpoint)
	if err != nil {
		return nil, noop, err
	}
	keys.HostKeyCallbackHelper = callback
	return keys, cleanup, nil
}

func (s *Source) hostKeyCallback(ctx context.Context, endpoint *transport.Endpoint) (sshauth.HostKeyCallbackHelper, func(), error) {
	noop := func() {}

	var paths []string
	seen := make(map[string]struct{})
	for _, p := range s.SSH.KnownHostsPaths {
		p = strings.TrimSpace(p)
		if _, dup := seen[p]; p == "" || dup {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	inline, err := s.valueOrRef(ctx, s.SSH.KnownHosts, s.SSH.KnownHostsRef)
	if err != nil {
		return sshauth.HostKeyCallbackHelper{}, noop, err
	}

	cleanup := noop
	if inline = strings.TrimSpace(inline); inline != "" {
		path, err := writeKnownHosts(inline)
		if err != nil {
			return sshauth.HostKeyCallbackHelper{}, noop, err
		}
		paths = append(paths, path)
		cleanup = func() {
			if err := os.Remove(path); err != nil {
				log.Error("remove temp known_hosts", "file", path, "error", err)
			}
		}
	}

	if len(paths) == 0 {
		return sshauth.HostKeyCallbackHelper{}, noop, errors.New("ssh known hosts configuration required")
	}

	db, err := knownhosts.NewDB(paths...)
	if err != nil {
		cleanup()
		return sshauth.HostKeyCallbackHelper{}, noop, err
	}

	if host := hostWithPort(endpoint); host != "" && len(db.HostKeyAlgorithms(host)) == 0 {
		cleanup()
		return sshauth.HostKeyCallbackHelper{}, noop, fmt.Errorf("no known_hosts entry for %s", host)
	}

	return sshauth.HostKeyCallbackHelper{HostKeyCallback: db.HostKeyCallback()}, cleanup, nil
}

func writeKnownHosts(data string) (string, error) {
	file, err := os.CreateTemp("", "pipewright-known-hosts-")
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	_, werr := file.WriteString(data)
	if err := errors.Join(werr, file.Close()); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func (s *Source) valueOrRef(ctx context.Context, value, ref string) (string, error) {
	if strings.TrimSpace(value) != "" || strings.TrimSpace(ref) == "" {
		return value, nil
	}
	if s.Resolver == nil {
		return "", fmt.Errorf("secret resolver not configured for %q", ref)
	}
	resolved, err := s.Resolver.Resolve(ctx, strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", ref, err)
	}
	return resolved, nil
}

func hostWithPort(endpoint *transport.Endpoint) string {
	if endpoint == nil || strings.TrimSpace(endpoint.Host) == "" {
		return ""
	}
	host := strings.TrimSpace(endpoint.Host)
	port := endpoint.Port
	if port == 0 {
		switch strings.ToLower(endpoint.Protocol) {
		case "http":
			port = 80
		case "https":
			port = 443
		case "git":
			port = 9418
		default:
			port = 22
		}
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
