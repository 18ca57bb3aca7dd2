package scan

import (
	"slices"
	"time"

	"github.com/kubewarden/posture-scanner/internal/aggregator"
	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/executor"
)

// State is the lifecycle state of a scan.
type State string

const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Request triggers a scan.
type Request struct {
	TenantID  string
	Benchmark catalogue.Ref
	// Level keeps only the checks of this level when set.
	Level string
	// Selector is an optional CEL expression over the checks.
	Selector string
}

// Scan is the record of one scan. Results are kept in completion order.
type Scan struct {
	ID               string             `json:"scanId"`
	TenantID         string             `json:"tenantId"`
	BenchmarkID      string             `json:"benchmarkId"`
	BenchmarkVersion string             `json:"benchmarkVersion,omitempty"`
	Level            string             `json:"level,omitempty"`
	Selector         string             `json:"selector,omitempty"`
	State            State              `json:"state"`
	CreatedAt        time.Time          `json:"createdAt"`
	StartedAt        *time.Time         `json:"startedAt,omitempty"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
	Results          []executor.Result  `json:"results"`
	Summary          aggregator.Summary `json:"summary"`
	FailureReason    string             `json:"failureReason,omitempty"`
	// RequiredModules is the union of the modules needed by the work list.
	RequiredModules []string `json:"requiredModules,omitempty"`
	// Expected is the size of the work list.
	Expected int `json:"expected"`
}

func (s *Scan) clone() *Scan {
	c := *s
	c.Results = slices.Clone(s.Results)
	c.RequiredModules = slices.Clone(s.RequiredModules)
	return &c
}

func requiredModules(work []catalogue.Definition) []string {
	var modules []string
	for _, def := range work {
		for _, m := range def.Modules {
			if !slices.Contains(modules, m) {
				modules = append(modules, m)
			}
		}
	}
	slices.Sort(modules)
	return modules
}
