package secret

import (
	"context"
	"errors"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type staticResolver struct {
	value string
	err   error
	refs  []string
}

func (s *staticResolver) Resolve(_ context.Context, ref string) (string, error) {
	s.refs = append(s.refs, ref)
	return s.value, s.err
}

func TestParse(t *testing.T) {
	ref, err := Parse("secret://Vault/kv/data/airflow/password?field=value")
	require.NoError(t, err)
	require.Equal(t, ProviderVault, ref.Provider)
	require.Equal(t, []string{"kv", "data", "airflow", "password"}, ref.Segments)
	require.Equal(t, "value", ref.Query.Get("field"))

	_, err = Parse("https://vault/kv")
	require.Error(t, err)

	_, err = Parse("secret:///path")
	require.Error(t, err)
}

func TestValuePassesThroughPlainStrings(t *testing.T) {
	r := &staticResolver{value: "resolved"}

	got, err := Value(context.Background(), r, "plain-password")
	require.NoError(t, err)
	require.Equal(t, "plain-password", got)
	require.Empty(t, r.refs)

	got, err = Value(context.Background(), r, "secret://env/AIRFLOW_PASSWORD")
	require.NoError(t, err)
	require.Equal(t, "resolved", got)

	_, err = Value(context.Background(), nil, "secret://env/AIRFLOW_PASSWORD")
	require.Error(t, err)

	r.err = errors.New("boom")
	_, err = Value(context.Background(), r, "secret://env/AIRFLOW_PASSWORD")
	require.ErrorContains(t, err, "boom")
}

func TestEnv(t *testing.T) {
	t.Setenv("PIPEWRIGHT_TEST_TOKEN", "abc")

	value, err := Env{}.Resolve(context.Background(), "secret://env/PIPEWRIGHT/TEST/TOKEN")
	require.NoError(t, err)
	require.Equal(t, "abc", value)

	value, err = Env{}.Resolve(context.Background(), "secret://env/ignored?name=PIPEWRIGHT_TEST_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "abc", value)

	_, err = Env{}.Resolve(context.Background(), "secret://env/PIPEWRIGHT_UNSET_VALUE")
	require.Error(t, err)

	_, err = Env{}.Resolve(context.Background(), "secret://vault/x/y")
	require.Error(t, err)
}

func TestMultiDispatchesByProvider(t *testing.T) {
	vaultStub := &staticResolver{value: "from-vault"}
	m := NewMulti(map[string]Resolver{"VAULT": vaultStub})
	m.Register(ProviderEnv, &staticResolver{value: "from-env"})

	require.Equal(t, []string{ProviderEnv, ProviderVault}, m.Providers())

	value, err := m.Resolve(context.Background(), "secret://vault/kv/token")
	require.NoError(t, err)
	require.Equal(t, "from-vault", value)
	require.Equal(t, []string{"secret://vault/kv/token"}, vaultStub.refs)

	_, err = m.Resolve(context.Background(), "secret://k8s/creds/token")
	require.ErrorContains(t, err, "not configured")

	_, err = m.Resolve(context.Background(), " ")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	m, err := New(Config{EnableEnv: true, Kubernetes: &KubernetesConfig{Namespace: "jobs"}})
	require.NoError(t, err)
	require.Equal(t, []string{ProviderEnv, ProviderKubernetes, "kubernetes"}, m.Providers())

	_, err = New(Config{Vault: &VaultConfig{}})
	require.Error(t, err)
}

type fakeLogical struct {
	response *vault.Secret
	err      error
	lastPath string
}

func (f *fakeLogical) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.lastPath = path
	return f.response, f.err
}

type VaultSuite struct {
	suite.Suite
}

func TestVaultSuite(t *testing.T) {
	suite.Run(t, new(VaultSuite))
}

func (s *VaultSuite) TestKVv2() {
	logical := &fakeLogical{response: &vault.Secret{Data: map[string]any{
		"data": map[string]any{"password": "hunter2"},
	}}}
	v := &Vault{logical: logical}

	value, err := v.Resolve(context.Background(), "secret://vault/kv/data/airflow?field=password")
	s.Require().NoError(err)
	s.Equal("hunter2", value)
	s.Equal("kv/data/airflow", logical.lastPath)
}

func (s *VaultSuite) TestFieldAsLastSegment() {
	logical := &fakeLogical{response: &vault.Secret{Data: map[string]any{"token": "abc"}}}
	v := &Vault{logical: logical}

	value, err := v.Resolve(context.Background(), "secret://vault/secret/git/token")
	s.Require().NoError(err)
	s.Equal("abc", value)
	s.Equal("secret/git", logical.lastPath)
}

func (s *VaultSuite) TestFailures() {
	v := &Vault{logical: &fakeLogical{response: &vault.Secret{Data: map[string]any{}}}}
	_, err := v.Resolve(context.Background(), "secret://vault/kv/data/airflow?field=missing")
	s.Require().ErrorContains(err, "missing field")

	_, err = v.Resolve(context.Background(), "secret://vault")
	s.Require().Error(err)

	v = &Vault{logical: &fakeLogical{}}
	_, err = v.Resolve(context.Background(), "secret://vault/kv/airflow?field=password")
	s.Require().ErrorContains(err, "not found")

	v = &Vault{logical: &fakeLogical{err: errors.New("permission denied")}}
	_, err = v.Resolve(context.Background(), "secret://vault/kv/airflow?field=password")
	s.Require().ErrorContains(err, "permission denied")
}

func (s *VaultSuite) TestNewVaultValidation() {
	_, err := NewVault(VaultConfig{})
	s.Require().Error(err)

	_, err = NewVault(VaultConfig{Address: "https://vault.example.com", CACertPath: "/does/not/exist"})
	s.Require().Error(err)
}

type KubernetesSuite struct {
	suite.Suite
}

func TestKubernetesSuite(t *testing.T) {
	suite.Run(t, new(KubernetesSuite))
}

func (s *KubernetesSuite) resolver(namespace string, objs ...*corev1.Secret) *Kubernetes {
	k := NewKubernetes(KubernetesConfig{Namespace: namespace})
	client := fake.NewClientset()
	for _, obj := range objs {
		_, err := client.CoreV1().Secrets(obj.Namespace).Create(context.Background(), obj, metav1.CreateOptions{})
		s.Require().NoError(err)
	}
	k.client = client
	return k
}

func (s *KubernetesSuite) TestDefaultNamespace() {
	k := s.resolver("pipelines", &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "airflow", Namespace: "pipelines"},
		Data:       map[string][]byte{"password": []byte("hunter2")},
	})

	value, err := k.Resolve(context.Background(), "secret://k8s/airflow/password")
	s.Require().NoError(err)
	s.Equal("hunter2", value)
}

func (s *KubernetesSuite) TestExplicitNamespace() {
	k := s.resolver("", &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "git", Namespace: "infra"},
		Data:       map[string][]byte{"token": []byte("abc")},
	})

	value, err := k.Resolve(context.Background(), "secret://kubernetes/infra/git/token")
	s.Require().NoError(err)
	s.Equal("abc", value)

	value, err = k.Resolve(context.Background(), "secret://k8s/git/token?namespace=infra")
	s.Require().NoError(err)
	s.Equal("abc", value)
}

func (s *KubernetesSuite) TestFailures() {
	k := s.resolver("default", &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "git", Namespace: "default"},
		Data:       map[string][]byte{"token": []byte("abc")},
	})

	_, err := k.Resolve(context.Background(), "secret://k8s/missing/token")
	s.Require().Error(err)

	_, err = k.Resolve(context.Background(), "secret://k8s/git/password")
	s.Require().ErrorContains(err, "missing key")

	_, err = k.Resolve(context.Background(), "secret://k8s/onlyone")
	s.Require().Error(err)
}
