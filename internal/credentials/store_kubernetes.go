package credentials

import (
	"context"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const DefaultSecretPrefix = "posture-tenant-"

// KubernetesStore reads tenant credentials from Secrets. Each tenant has
// one Secret named <prefix><tenant id> whose data keys are the well-known
// key names.
type KubernetesStore struct {
	clientset kubernetes.Interface
	namespace string
	prefix    string
	logger    *slog.Logger
}

func NewKubernetesStore(clientset kubernetes.Interface, namespace, prefix string, logger *slog.Logger) *KubernetesStore {
	if prefix == "" {
		prefix = DefaultSecretPrefix
	}
	return &KubernetesStore{
		clientset: clientset,
		namespace: namespace,
		prefix:    prefix,
		logger:    logger.With("component", "kubernetes-secret-store"),
	}
}

// SecretName returns the name of the Secret holding the tenant credentials.
func (s *KubernetesStore) SecretName(tenantID string) string {
	return s.prefix + tenantID
}

func (s *KubernetesStore) Get(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	name := s.SecretName(tenantID)
	secret, err := s.clientset.CoreV1().Secrets(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		s.logger.DebugContext(ctx, "no credentials secret for tenant",
			slog.String("tenant", tenantID),
			slog.String("secret", name),
			slog.String("namespace", s.namespace))
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't get secret %s/%s: %w", s.namespace, name, err)
	}

	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := secret.Data[key]; ok && len(v) > 0 {
			values[key] = string(v)
			continue
		}
		if v, ok := secret.StringData[key]; ok && v != "" {
			values[key] = v
		}
	}
	return values, nil
}
