package catalogue

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// ErrUnknownBenchmark is returned when a reference matches no registered
// benchmark version.
var ErrUnknownBenchmark = errors.New("unknown benchmark")

// Catalogue is the set of registered benchmark versions. It is safe for
// concurrent use and its content can be swapped atomically by Replace.
type Catalogue struct {
	mu         sync.RWMutex
	benchmarks map[string][]*Benchmark // id -> versions, highest first
}

// New returns a catalogue holding the given benchmarks.
func New(benchmarks ...*Benchmark) *Catalogue {
	c := &Catalogue{}
	c.Replace(benchmarks)
	return c
}

// Replace swaps the whole content of the catalogue. The checks of every
// benchmark are kept ordered by recommendation id; the given benchmarks are
// not modified.
func (c *Catalogue) Replace(benchmarks []*Benchmark) {
	index := make(map[string][]*Benchmark)
	for _, b := range benchmarks {
		index[b.ID] = append(index[b.ID], sortedChecks(b))
	}
	for _, versions := range index {
		slices.SortFunc(versions, func(a, b *Benchmark) int {
			return b.Version.Compare(a.Version)
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.benchmarks = index
}

func sortedChecks(b *Benchmark) *Benchmark {
	cmp := func(x, y Definition) int {
		return CompareRecommendationIDs(x.RecommendationID, y.RecommendationID)
	}
	if slices.IsSortedFunc(b.Checks, cmp) {
		return b
	}
	sorted := *b
	sorted.Checks = slices.Clone(b.Checks)
	slices.SortStableFunc(sorted.Checks, cmp)
	return &sorted
}

// Benchmarks returns every registered benchmark version, sorted by id and
// then by descending version.
func (c *Catalogue) Benchmarks() []*Benchmark {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.benchmarks))
	for id := range c.benchmarks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var res []*Benchmark
	for _, id := range ids {
		res = append(res, c.benchmarks[id]...)
	}
	return res
}

// Resolve returns the benchmark version ref points to. A reference without a
// version resolves to the highest registered version.
func (c *Catalogue) Resolve(ref Ref) (*Benchmark, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions, found := c.benchmarks[ref.ID]
	if !found || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBenchmark, ref)
	}
	if ref.Version == "" {
		return versions[0], nil
	}

	wanted, err := semver.NewVersion(ref.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownBenchmark, ref, err)
	}
	for _, b := range versions {
		if b.Version.Equal(wanted) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBenchmark, ref)
}

// ListChecks returns the checks of the referenced benchmark that match the
// filter, ordered by recommendation id.
func (c *Catalogue) ListChecks(ref Ref, filter Filter) ([]Definition, error) {
	benchmark, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}

	var selector *Selector
	if filter.Selector != "" {
		selector, err = NewSelector(filter.Selector)
		if err != nil {
			return nil, err
		}
	}

	res := make([]Definition, 0, len(benchmark.Checks))
	for _, def := range benchmark.Checks {
		if filter.Level != "" && def.Level != filter.Level {
			continue
		}
		if selector != nil {
			matched, err := selector.Matches(def)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
		}
		res = append(res, def)
	}
	return res, nil
}
