package scan

import (
	"fmt"
	"regexp"

	"github.com/kubewarden/posture-scanner/internal/executor"
)

// infraTracker applies an InfraErrorPolicy to the results of one scan.
type infraTracker struct {
	threshold   int
	patterns    []*regexp.Regexp
	fingerprint string
	streak      int
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid infrastructure error pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func newInfraTracker(threshold int, patterns []*regexp.Regexp) *infraTracker {
	return &infraTracker{threshold: threshold, patterns: patterns}
}

// observe records a result and returns a failure reason once the policy is
// exhausted.
func (t *infraTracker) observe(res executor.Result) (string, bool) {
	if t.threshold <= 0 {
		return "", false
	}

	fingerprint := t.match(res)
	if fingerprint == "" {
		t.fingerprint = ""
		t.streak = 0
		return "", false
	}
	if fingerprint != t.fingerprint {
		t.fingerprint = fingerprint
		t.streak = 0
	}
	t.streak++
	if t.streak < t.threshold {
		return "", false
	}
	return fmt.Sprintf("infrastructure exhausted: %d consecutive checks failed with %q", t.streak, fingerprint), true
}

func (t *infraTracker) match(res executor.Result) string {
	if res.Status != executor.StatusError {
		return ""
	}
	for _, re := range t.patterns {
		if re.MatchString(res.Error) {
			return re.String()
		}
	}
	return ""
}
