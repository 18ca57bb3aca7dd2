package report

import "github.com/kubewarden/posture-scanner/internal/constants"

const (
	reportSource = constants.AppName
	reportPrefix = "posture-"
)

const (
	// Status specifies state of a check result
	statusPass  = "pass"
	statusFail  = "fail"
	statusError = "error"
)

const (
	propertyStatusID  = "status-id"
	propertyStartedAt = "started-at"
	propertyDuration  = "duration"
	propertyDetails   = "details"

	maxDetailsLength = 4096
)
