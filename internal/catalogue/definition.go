package catalogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Definition describes one compliance check. Definitions are immutable once
// loaded.
type Definition struct {
	// RecommendationID is the stable dotted identifier of the check, e.g. "1.1.2".
	RecommendationID string
	Title            string
	// Level is the profile the check belongs to, e.g. "L1" or "L2".
	Level string
	// Modules lists the service modules the script needs.
	Modules []string
	// Script is the absolute path of the executable.
	Script string
	// Interpreter, when set, is prepended to Script to build the command line.
	Interpreter []string
	// Timeout overrides the executor default when non zero.
	Timeout time.Duration

	BenchmarkID      string
	BenchmarkVersion string
}

// Command returns the command line that runs the check.
func (d Definition) Command() []string {
	cmd := make([]string, 0, len(d.Interpreter)+1)
	cmd = append(cmd, d.Interpreter...)
	return append(cmd, d.Script)
}

// Benchmark is one version of a benchmark with its checks, sorted by
// recommendation id.
type Benchmark struct {
	ID      string
	Version *semver.Version
	Title   string
	Dir     string
	Checks  []Definition
}

// Ref returns the fully qualified reference of the benchmark.
func (b *Benchmark) Ref() Ref {
	return Ref{ID: b.ID, Version: b.Version.String()}
}

// Ref points to a benchmark, optionally pinned to a version.
type Ref struct {
	ID      string
	Version string
}

// ParseRef parses "id" or "id@version".
func ParseRef(s string) (Ref, error) {
	id, version, pinned := strings.Cut(strings.TrimSpace(s), "@")
	if id == "" {
		return Ref{}, fmt.Errorf("invalid benchmark reference %q: empty id", s)
	}
	if pinned && version == "" {
		return Ref{}, fmt.Errorf("invalid benchmark reference %q: empty version", s)
	}
	return Ref{ID: id, Version: version}, nil
}

func (r Ref) String() string {
	if r.Version == "" {
		return r.ID
	}
	return r.ID + "@" + r.Version
}

// Filter narrows the checks returned by ListChecks. Zero values match
// everything.
type Filter struct {
	// Level keeps only checks whose level is exactly this value.
	Level string
	// Selector is a CEL expression evaluated against every check.
	Selector string
}
