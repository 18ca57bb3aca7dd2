package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/kubewarden/posture-scanner/internal/constants"
	"github.com/kubewarden/posture-scanner/internal/executor"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

// CrdKind represents the kind of report used to store scan records.
type CrdKind int

const (
	ReportKindOpenReport CrdKind = iota
	ReportKindPolicyReport
)

const (
	OpenReportsKind  = "openreport"
	PolicyReportKind = "policyreport"
)

// ParseKind parses the report kind flag value.
func ParseKind(s string) (CrdKind, error) {
	switch s {
	case OpenReportsKind:
		return ReportKindOpenReport, nil
	case PolicyReportKind:
		return ReportKindPolicyReport, nil
	default:
		return 0, fmt.Errorf("invalid report-kind '%s': supported values are '%s' and '%s'", s, OpenReportsKind, PolicyReportKind)
	}
}

// Name returns the name of the report of a scan.
func Name(s *scan.Scan) string {
	return reportPrefix + s.ID
}

func getReportObjectMeta(s *scan.Scan, namespace string) metav1.ObjectMeta {
	annotations := map[string]string{
		constants.StateAnnotation:            string(s.State),
		constants.ComplianceAnnotation:       fmt.Sprintf("%.2f", s.Summary.Compliance),
		constants.BenchmarkVersionAnnotation: s.BenchmarkVersion,
	}
	if s.Level != "" {
		annotations[constants.LevelAnnotation] = s.Level
	}
	if s.FailureReason != "" {
		annotations[constants.FailureReasonAnnotation] = s.FailureReason
	}
	return metav1.ObjectMeta{
		Name:        Name(s),
		Namespace:   namespace,
		Labels:      reportLabels(s),
		Annotations: annotations,
	}
}

func reportLabels(s *scan.Scan) map[string]string {
	return map[string]string{
		constants.ManagedByLabelKey: constants.AppName,
		constants.ScanIDLabelKey:    s.ID,
		constants.TenantLabelKey:    labelValue(s.TenantID),
		constants.BenchmarkLabelKey: labelValue(s.BenchmarkID),
	}
}

// getReportScope points to the scanned tenant. Tenants are not Kubernetes
// objects, the reference is informative only.
func getReportScope(s *scan.Scan) *corev1.ObjectReference {
	return &corev1.ObjectReference{
		APIVersion: "posture.kubewarden.io/v1",
		Kind:       "Tenant",
		Name:       s.TenantID,
	}
}

func computeResult(status executor.Status) string {
	switch status {
	case executor.StatusPass:
		return statusPass
	case executor.StatusFail:
		return statusFail
	default:
		return statusError
	}
}

func computeProperties(res executor.Result) map[string]string {
	properties := map[string]string{
		propertyStatusID: fmt.Sprintf("%d", res.StatusID),
		propertyDuration: res.Duration.Round(time.Millisecond).String(),
	}
	if !res.StartedAt.IsZero() {
		properties[propertyStartedAt] = res.StartedAt.UTC().Format(time.RFC3339)
	}
	if len(res.Details) > 0 {
		if details, err := json.Marshal(res.Details); err == nil {
			properties[propertyDetails] = truncate(string(details), maxDetailsLength)
		}
	}
	return properties
}

func resultTimestamp(res executor.Result) metav1.Timestamp {
	t := res.StartedAt
	if t.IsZero() {
		t = time.Now()
	}
	return metav1.Timestamp{Seconds: t.Unix()}
}

// labelValue turns s into a valid label value: invalid characters become
// dashes and the value is cut to the maximum label length.
func labelValue(s string) string {
	if len(validation.IsValidLabelValue(s)) == 0 {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if !isLabelChar(c) {
			b[i] = '-'
		}
	}
	v := string(b)
	if len(v) > validation.LabelValueMaxLength {
		v = v[:validation.LabelValueMaxLength]
	}
	return strings.Trim(v, "-_.")
}

func isLabelChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.'
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
