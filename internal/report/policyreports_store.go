package report

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	wgpolicy "sigs.k8s.io/wg-policy-prototypes/policy-report/pkg/api/wgpolicyk8s.io/v1alpha2"

	"github.com/kubewarden/posture-scanner/internal/scan"
)

// PolicyReportStore stores scan records as wgpolicyk8s.io PolicyReports.
type PolicyReportStore struct {
	// client is a controller-runtime client that knows about the PolicyReport CRD
	client      client.Client
	namespace   string
	keepHistory bool
	logger      *slog.Logger
}

func NewPolicyReportStore(c client.Client, namespace string, keepHistory bool, logger *slog.Logger) *PolicyReportStore {
	return &PolicyReportStore{
		client:      c,
		namespace:   namespace,
		keepHistory: keepHistory,
		logger:      logger.With("component", "policyreportstore"),
	}
}

// NewPolicyReport builds the PolicyReport describing a scan.
func NewPolicyReport(s *scan.Scan, namespace string) *wgpolicy.PolicyReport {
	results := make([]*wgpolicy.PolicyReportResult, 0, len(s.Results))
	for _, res := range s.Results {
		results = append(results, &wgpolicy.PolicyReportResult{
			Source:      reportSource,
			Policy:      res.RecommendationID,
			Category:    s.BenchmarkID,
			Timestamp:   resultTimestamp(res),
			Result:      wgpolicy.PolicyResult(computeResult(res.Status)),
			Scored:      true,
			Description: res.Error,
			Properties:  computeProperties(res),
		})
	}

	return &wgpolicy.PolicyReport{
		ObjectMeta: getReportObjectMeta(s, namespace),
		Scope:      getReportScope(s),
		Summary: wgpolicy.PolicyReportSummary{
			Pass:  s.Summary.Passed,
			Fail:  s.Summary.Failed,
			Error: s.Summary.Errored,
		},
		Results: results,
	}
}

func (s *PolicyReportStore) SaveScan(ctx context.Context, record *scan.Scan) error {
	report := NewPolicyReport(record, s.namespace)
	oldReport := &wgpolicy.PolicyReport{ObjectMeta: metav1.ObjectMeta{
		Name:      report.GetName(),
		Namespace: report.GetNamespace(),
	}}

	operation, err := controllerutil.CreateOrPatch(ctx, s.client, oldReport, func() error {
		oldReport.ObjectMeta.Labels = report.ObjectMeta.Labels
		oldReport.ObjectMeta.Annotations = report.ObjectMeta.Annotations
		oldReport.Scope = report.Scope
		oldReport.Summary = report.Summary
		oldReport.Results = report.Results

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create or patch policy report %s: %w", report.GetName(), err)
	}

	s.logger.DebugContext(ctx, fmt.Sprintf("PolicyReport %s", operation),
		slog.String("report-name", report.GetName()),
		slog.String("report-version", oldReport.GetResourceVersion()),
		slog.String("tenant", record.TenantID))

	if s.keepHistory {
		return nil
	}

	labelSelector, err := previousScansSelector(record)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "Deleting old PolicyReports", slog.String("labelSelector", labelSelector.String()))
	if err := s.client.DeleteAllOf(ctx, &wgpolicy.PolicyReport{}, &client.DeleteAllOfOptions{ListOptions: client.ListOptions{
		LabelSelector: labelSelector,
		Namespace:     s.namespace,
	}}); err != nil {
		return fmt.Errorf("failed to delete PolicyReports: %w", err)
	}
	return nil
}
