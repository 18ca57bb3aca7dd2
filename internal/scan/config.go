package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/credentials"
	"github.com/kubewarden/posture-scanner/internal/executor"
)

const (
	DefaultParallelChecks = 6
	DefaultGracePeriod    = 10 * time.Second
)

// CredentialResolver returns the credentials of a tenant.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (*credentials.Set, error)
}

// Catalogue expands benchmark references into work lists.
type Catalogue interface {
	Resolve(ref catalogue.Ref) (*catalogue.Benchmark, error)
	ListChecks(ref catalogue.Ref, filter catalogue.Filter) ([]catalogue.Definition, error)
}

// CheckExecutor runs one check and always returns a result for it.
type CheckExecutor interface {
	Run(ctx context.Context, def catalogue.Definition, creds *credentials.Set) executor.Result
}

// RecordStore persists terminal scan records.
type RecordStore interface {
	SaveScan(ctx context.Context, scan *Scan) error
}

type ParallelizationConfig struct {
	// ParallelChecks is the number of check scripts running at the same time.
	ParallelChecks int
}

// InfraErrorPolicy fails a scan when the same transport level error keeps
// coming back. An Error result whose message matches one of Patterns counts
// towards a streak keyed by the matched pattern; any other result resets the
// streak. Threshold consecutive matches fail the scan. A zero Threshold
// disables the policy.
type InfraErrorPolicy struct {
	Threshold int
	// Patterns are regular expressions matched against result errors.
	Patterns []string
}

type Config struct {
	Resolver  CredentialResolver
	Catalogue Catalogue
	Executor  CheckExecutor

	// RecordStore receives every terminal scan. Optional.
	RecordStore RecordStore
	// Notifier receives progress events. Optional.
	Notifier Notifier
	// Registry keeps track of the scans started by the runtime. Optional.
	Registry *Registry

	Parallelization ParallelizationConfig
	// GracePeriod is how long in-flight checks may keep running after a
	// cancellation before their processes are killed.
	GracePeriod      time.Duration
	InfraErrorPolicy InfraErrorPolicy

	Logger *slog.Logger
}

func (c Config) validate() error {
	var errs []error
	if c.Resolver == nil {
		errs = append(errs, errors.New("missing credential resolver"))
	}
	if c.Catalogue == nil {
		errs = append(errs, errors.New("missing catalogue"))
	}
	if c.Executor == nil {
		errs = append(errs, errors.New("missing check executor"))
	}
	if c.Parallelization.ParallelChecks < 0 {
		errs = append(errs, errors.New("parallel checks must not be negative"))
	}
	if c.InfraErrorPolicy.Threshold < 0 {
		errs = append(errs, errors.New("infrastructure error threshold must not be negative"))
	}
	if c.InfraErrorPolicy.Threshold > 0 && len(c.InfraErrorPolicy.Patterns) == 0 {
		errs = append(errs, errors.New("infrastructure error policy needs at least one pattern"))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.Parallelization.ParallelChecks == 0 {
		c.Parallelization.ParallelChecks = DefaultParallelChecks
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Notifier == nil {
		c.Notifier = Notifiers()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
