package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/credentials"
	"github.com/kubewarden/posture-scanner/internal/executor"
)

type fakeResolver struct {
	err error
}

func (f fakeResolver) Resolve(_ context.Context, tenantID string) (*credentials.Set, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &credentials.Set{
		TenantID:     tenantID,
		ClientSecret: &credentials.ClientSecret{ClientID: "id", Secret: "secret"},
	}, nil
}

type fakeExecutor struct {
	run func(ctx context.Context, def catalogue.Definition) executor.Result

	calls      atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32

	mu  sync.Mutex
	ids []string
}

func (f *fakeExecutor) Run(ctx context.Context, def catalogue.Definition, _ *credentials.Set) executor.Result {
	f.calls.Add(1)
	f.mu.Lock()
	f.ids = append(f.ids, def.RecommendationID)
	f.mu.Unlock()

	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	res := f.run(ctx, def)
	res.RecommendationID = def.RecommendationID
	res.StatusID = res.Status.Code()
	return res
}

func passAll(context.Context, catalogue.Definition) executor.Result {
	return executor.Result{Status: executor.StatusPass}
}

type recordingStore struct {
	mu    sync.Mutex
	scans []*Scan
	err   error
}

func (s *recordingStore) SaveScan(_ context.Context, scan *Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, scan)
	return s.err
}

// testCatalogue returns a catalogue with the benchmark "cis" holding the
// given number of L1 checks plus the three checks 1.1.1 (L1), 1.1.2 (L1) and
// 1.1.3 (L2) when extra is zero.
func testCatalogue(t *testing.T, extra int) *catalogue.Catalogue {
	t.Helper()

	checks := []catalogue.Definition{
		{RecommendationID: "1.1.1", Level: "L1", Modules: []string{"directory-graph"}},
		{RecommendationID: "1.1.2", Level: "L1", Modules: []string{"mail-admin", "directory-graph"}},
		{RecommendationID: "1.1.3", Level: "L2", Modules: []string{"collaboration-admin"}},
	}
	for i := range extra {
		checks = append(checks, catalogue.Definition{
			RecommendationID: fmt.Sprintf("2.%d", i+1),
			Level:            "L1",
		})
	}
	for i := range checks {
		checks[i].BenchmarkID = "cis"
		checks[i].BenchmarkVersion = "1.0.0"
	}

	return catalogue.New(&catalogue.Benchmark{
		ID:      "cis",
		Version: semver.MustParse("1.0.0"),
		Checks:  checks,
	})
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()

	if cfg.Resolver == nil {
		cfg.Resolver = fakeResolver{}
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = testCatalogue(t, 0)
	}
	runtime, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("cannot create runtime: %v", err)
	}
	return runtime
}

func resultIDs(s *Scan) []string {
	ids := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		ids = append(ids, r.RecommendationID)
	}
	return ids
}
