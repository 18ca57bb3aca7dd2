package credentials

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestKubernetesStoreGet(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "posture-tenant-contoso",
			Namespace: "posture",
		},
		Data: map[string][]byte{
			KeyTenantDomain: []byte("contoso.onmicrosoft.com"),
			KeyClientID:     []byte("app-id"),
			KeyClientSecret: []byte("secret"),
			KeyUsername:     {},
			"unrelated":     []byte("value"),
		},
	}
	clientset := fake.NewClientset(secret)
	store := NewKubernetesStore(clientset, "posture", "", slog.Default())

	values, err := store.Get(context.Background(), "contoso", KeyNames())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		KeyTenantDomain: "contoso.onmicrosoft.com",
		KeyClientID:     "app-id",
		KeyClientSecret: "secret",
	}, values)

	_, err = store.Get(context.Background(), "fabrikam", KeyNames())
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestKubernetesStoreCustomPrefix(t *testing.T) {
	store := NewKubernetesStore(fake.NewClientset(), "posture", "tenant-", slog.Default())
	assert.Equal(t, "tenant-contoso", store.SecretName("contoso"))
}

func TestKubernetesStoreThroughResolver(t *testing.T) {
	clientset := fake.NewClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "posture-tenant-empty", Namespace: "posture"},
	})
	resolver := NewResolver(NewKubernetesStore(clientset, "posture", "", slog.Default()), slog.Default())

	_, err := resolver.Resolve(context.Background(), "empty")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	_, err = resolver.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.yaml")
	content := `tenants:
  contoso:
    tenant-domain: contoso.onmicrosoft.com
    username: admin@contoso.onmicrosoft.com
    password: pw
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	values, err := store.Get(context.Background(), "contoso", KeyNames())
	require.NoError(t, err)
	assert.Equal(t, "admin@contoso.onmicrosoft.com", values[KeyUsername])
	assert.NotContains(t, values, KeyClientID)
}

func TestFileStoreRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants: {}\n"), 0o600))
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := NewFileStore(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be accessible")
}

func TestFileStoreParseErrorDoesNotLeak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  a: [password: hunter2\n"), 0o600))

	_, err := NewFileStore(path)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
}
