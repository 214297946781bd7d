package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig describes how to reach the Kubernetes API.
type KubernetesConfig struct {
	KubeConfigPath string
	Namespace      string
}

// Kubernetes reads keys of Secret resources, addressed as
// secret://k8s/[<namespace>/]<secret>/<key>.
type Kubernetes struct {
	cfg     KubernetesConfig
	once    sync.Once
	client  kubernetes.Interface
	initErr error
}

// NewKubernetes builds a resolver that connects lazily on first use.
func NewKubernetes(cfg KubernetesConfig) *Kubernetes {
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = "default"
	}
	return &Kubernetes{cfg: cfg}
}

func (k *Kubernetes) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.Provider != ProviderKubernetes && parsed.Provider != "kubernetes" {
		return "", fmt.Errorf("kubernetes resolver cannot handle provider %q", parsed.Provider)
	}

	namespace, name, key := k.cfg.Namespace, "", ""
	switch s := parsed.Segments; len(s) {
	case 2:
		name, key = s[0], s[1]
	case 3:
		namespace, name, key = s[0], s[1], s[2]
	default:
		return "", fmt.Errorf("kubernetes secret reference %q must be secret://k8s/[<namespace>/]<secret>/<key>", ref)
	}
	if ns := strings.TrimSpace(parsed.Query.Get("namespace")); ns != "" {
		namespace = ns
	}

	client, err := k.clientset()
	if err != nil {
		return "", err
	}

	secret, err := client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("load kubernetes secret %s/%s: %w", namespace, name, err)
	}
	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("kubernetes secret %s/%s missing key %s", namespace, name, key)
	}
	return string(value), nil
}

func (k *Kubernetes) clientset() (kubernetes.Interface, error) {
	k.once.Do(func() {
		if k.client != nil {
			return
		}
		cfg, err := kubeConfig(k.cfg.KubeConfigPath)
		if err != nil {
			k.initErr = err
			return
		}
		k.client, k.initErr = kubernetes.NewForConfig(cfg)
	})
	return k.client, k.initErr
}

func kubeConfig(path string) (*rest.Config, error) {
	if strings.TrimSpace(path) != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		local := filepath.Join(home, ".kube", "config")
		if _, err := os.Stat(local); err == nil {
			return clientcmd.BuildConfigFromFlags("", local)
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}
