package constants

const (
	// AppName identifies the scanner in the objects and telemetry it produces.
	AppName = "posture-scanner"

	// DefaultNamespace holds the tenant credential Secrets and the reports.
	DefaultNamespace = "posture-scanner"

	// Labels.
	ManagedByLabelKey = "app.kubernetes.io/managed-by"
	ScanIDLabelKey    = "posture.kubewarden.io/scan-id"
	TenantLabelKey    = "posture.kubewarden.io/tenant"
	BenchmarkLabelKey = "posture.kubewarden.io/benchmark"

	// Annotations.
	StateAnnotation            = "posture.kubewarden.io/state"
	ComplianceAnnotation       = "posture.kubewarden.io/compliance"
	FailureReasonAnnotation    = "posture.kubewarden.io/failure-reason"
	BenchmarkVersionAnnotation = "posture.kubewarden.io/benchmark-version"
	LevelAnnotation            = "posture.kubewarden.io/level"
)
