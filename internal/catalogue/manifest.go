package catalogue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// ManifestName is the file name that marks a benchmark version directory.
const ManifestName = "benchmark.yaml"

type manifest struct {
	ID          string          `yaml:"id"`
	Version     string          `yaml:"version"`
	Title       string          `yaml:"title"`
	Interpreter []string        `yaml:"interpreter"`
	Checks      []manifestCheck `yaml:"checks"`
}

type manifestCheck struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Level   string   `yaml:"level"`
	Modules []string `yaml:"modules"`
	Script  string   `yaml:"script"`
	Timeout string   `yaml:"timeout"`
}

// Load walks root and loads every benchmark manifest found below it. All
// manifest errors are reported together.
func Load(root string) ([]*Benchmark, error) {
	var manifests []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ManifestName {
			manifests = append(manifests, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk catalogue directory %q: %w", root, err)
	}

	var (
		benchmarks []*Benchmark
		errs       []error
		seen       = map[string]string{}
	)
	for _, path := range manifests {
		benchmark, err := LoadBenchmark(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := benchmark.Ref().String()
		if other, found := seen[key]; found {
			errs = append(errs, fmt.Errorf("benchmark %s is defined twice: %s and %s", key, other, path))
			continue
		}
		seen[key] = path
		benchmarks = append(benchmarks, benchmark)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return benchmarks, nil
}

// LoadBenchmark reads and validates a single manifest.
func LoadBenchmark(path string) (*Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %q: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory of %q: %w", path, err)
	}

	benchmark, allErrors := buildBenchmark(m, dir)
	if len(allErrors) > 0 {
		return nil, fmt.Errorf("invalid manifest %q: %w", path, allErrors.ToAggregate())
	}
	return benchmark, nil
}

func buildBenchmark(m manifest, dir string) (*Benchmark, field.ErrorList) {
	var allErrors field.ErrorList

	if m.ID == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("id"), "must be non-empty"))
	}
	version, err := semver.NewVersion(m.Version)
	if err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("version"), m.Version, err.Error()))
	}

	checksPath := field.NewPath("checks")
	ids := make(map[string]struct{}, len(m.Checks))
	checks := make([]Definition, 0, len(m.Checks))
	for i, c := range m.Checks {
		checkPath := checksPath.Index(i)
		def, errs := buildDefinition(c, checkPath, dir)
		allErrors = append(allErrors, errs...)
		if c.ID != "" {
			if _, found := ids[c.ID]; found {
				allErrors = append(allErrors, field.Duplicate(checkPath.Child("id"), c.ID))
			}
			ids[c.ID] = struct{}{}
		}
		def.Interpreter = m.Interpreter
		def.BenchmarkID = m.ID
		if version != nil {
			def.BenchmarkVersion = version.String()
		}
		checks = append(checks, def)
	}

	if len(allErrors) > 0 {
		return nil, allErrors
	}

	slices.SortStableFunc(checks, func(a, b Definition) int {
		return CompareRecommendationIDs(a.RecommendationID, b.RecommendationID)
	})
	return &Benchmark{
		ID:      m.ID,
		Version: version,
		Title:   m.Title,
		Dir:     dir,
		Checks:  checks,
	}, nil
}

func buildDefinition(c manifestCheck, path *field.Path, dir string) (Definition, field.ErrorList) {
	var allErrors field.ErrorList

	if c.ID == "" {
		allErrors = append(allErrors, field.Required(path.Child("id"), "must be non-empty"))
	}
	if c.Level == "" {
		allErrors = append(allErrors, field.Required(path.Child("level"), "must be non-empty"))
	}

	script := c.Script
	if script == "" {
		allErrors = append(allErrors, field.Required(path.Child("script"), "must be non-empty"))
	} else {
		if !filepath.IsAbs(script) {
			script = filepath.Join(dir, script)
		}
		if info, err := os.Stat(script); err != nil {
			allErrors = append(allErrors, field.Invalid(path.Child("script"), c.Script, "script not found"))
		} else if info.IsDir() {
			allErrors = append(allErrors, field.Invalid(path.Child("script"), c.Script, "must be a file"))
		}
	}

	var timeout time.Duration
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		switch {
		case err != nil:
			allErrors = append(allErrors, field.Invalid(path.Child("timeout"), c.Timeout, err.Error()))
		case d <= 0:
			allErrors = append(allErrors, field.Invalid(path.Child("timeout"), c.Timeout, "must be positive"))
		default:
			timeout = d
		}
	}

	return Definition{
		RecommendationID: c.ID,
		Title:            c.Title,
		Level:            c.Level,
		Modules:          slices.Clone(c.Modules),
		Script:           script,
		Timeout:          timeout,
	}, allErrors
}
