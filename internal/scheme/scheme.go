package scheme

import (
	"fmt"

	openreports "github.com/openreports/reports-api/apis/openreports.io/v1alpha1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	wgpolicy "sigs.k8s.io/wg-policy-prototypes/policy-report/pkg/api/wgpolicyk8s.io/v1alpha2"
)

// NewScheme returns a scheme knowing the core Kubernetes types and both
// report CRDs the scan records can be stored as.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add client-go types to scheme: %w", err)
	}
	if err := openreports.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add OpenReports types to scheme: %w", err)
	}
	if err := wgpolicy.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add PolicyReport types to scheme: %w", err)
	}
	return scheme, nil
}
