package report

import (
	"context"
	"fmt"
	"log/slog"

	openreports "github.com/openreports/reports-api/apis/openreports.io/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/kubewarden/posture-scanner/internal/constants"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

// OpenReportStore stores scan records as OpenReports Reports.
type OpenReportStore struct {
	// client is a controller-runtime client that knows about the OpenReports CRDs
	client      client.Client
	namespace   string
	keepHistory bool
	logger      *slog.Logger
}

func NewOpenReportStore(c client.Client, namespace string, keepHistory bool, logger *slog.Logger) *OpenReportStore {
	return &OpenReportStore{
		client:      c,
		namespace:   namespace,
		keepHistory: keepHistory,
		logger:      logger.With("component", "openreportstore"),
	}
}

// NewOpenReport builds the Report describing a scan.
func NewOpenReport(s *scan.Scan, namespace string) *openreports.Report {
	results := make([]openreports.ReportResult, 0, len(s.Results))
	for _, res := range s.Results {
		results = append(results, openreports.ReportResult{
			Source:      reportSource,
			Policy:      res.RecommendationID,
			Category:    s.BenchmarkID,
			Timestamp:   resultTimestamp(res),
			Result:      openreports.Result(computeResult(res.Status)),
			Scored:      true,
			Description: res.Error,
			Properties:  computeProperties(res),
		})
	}

	return &openreports.Report{
		ObjectMeta: getReportObjectMeta(s, namespace),
		Scope:      getReportScope(s),
		Summary: openreports.ReportSummary{
			Pass:  s.Summary.Passed,
			Fail:  s.Summary.Failed,
			Error: s.Summary.Errored,
		},
		Results: results,
	}
}

func (s *OpenReportStore) SaveScan(ctx context.Context, record *scan.Scan) error {
	report := NewOpenReport(record, s.namespace)
	oldReport := &openreports.Report{ObjectMeta: metav1.ObjectMeta{
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
		return fmt.Errorf("failed to create or patch report %s: %w", report.GetName(), err)
	}

	s.logger.DebugContext(ctx, fmt.Sprintf("Report %s", operation),
		slog.String("report-name", report.GetName()),
		slog.String("report-version", oldReport.GetResourceVersion()),
		slog.String("tenant", record.TenantID))

	if s.keepHistory {
		return nil
	}
	return s.deleteOldReports(ctx, record)
}

// deleteOldReports deletes the Reports of previous scans of the same tenant
// and benchmark.
func (s *OpenReportStore) deleteOldReports(ctx context.Context, record *scan.Scan) error {
	labelSelector, err := previousScansSelector(record)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "Deleting old Reports", slog.String("labelSelector", labelSelector.String()))

	if err := s.client.DeleteAllOf(ctx, &openreports.Report{}, &client.DeleteAllOfOptions{ListOptions: client.ListOptions{
		LabelSelector: labelSelector,
		Namespace:     s.namespace,
	}}); err != nil {
		return fmt.Errorf("failed to delete Reports: %w", err)
	}
	return nil
}

func previousScansSelector(record *scan.Scan) (labels.Selector, error) {
	labelSelector, err := labels.Parse(fmt.Sprintf("%s!=%s,%s=%s,%s=%s,%s=%s",
		constants.ScanIDLabelKey, record.ID,
		constants.ManagedByLabelKey, constants.AppName,
		constants.TenantLabelKey, labelValue(record.TenantID),
		constants.BenchmarkLabelKey, labelValue(record.BenchmarkID)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse label selector: %w", err)
	}
	return labelSelector, nil
}
