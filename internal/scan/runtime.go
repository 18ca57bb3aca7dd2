package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kubewarden/posture-scanner/internal/aggregator"
	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/credentials"
	"github.com/kubewarden/posture-scanner/internal/executor"
)

// Runtime drives scans: it resolves the credentials of the tenant, expands
// the benchmark into a work list and runs the checks on a bounded pool.
type Runtime struct {
	cfg      Config
	patterns []*regexp.Regexp
	logger   *slog.Logger
	now      func() time.Time
}

func NewRuntime(cfg Config) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	patterns, err := compilePatterns(cfg.InfraErrorPolicy.Patterns)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Runtime{
		cfg:      cfg,
		patterns: patterns,
		logger:   cfg.Logger.With("component", "scan-runtime"),
		now:      time.Now,
	}, nil
}

// Handle controls a started scan.
type Handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	scan *Scan
	err  error
}

func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the scan is terminal and its record was handed to the
// record store.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops dispatching new checks. In-flight checks get the grace
// period of the runtime before being killed. A scan whose checks were all
// dispatched and finish within the grace period still ends Completed.
func (h *Handle) Cancel() {
	h.cancel()
}

// Snapshot returns a copy of the current scan record.
func (h *Handle) Snapshot() *Scan {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.scan.clone()
}

// Wait blocks until the scan is terminal or ctx is done. The returned error
// is either the context error or the failure to store the scan record.
func (h *Handle) Wait(ctx context.Context) (*Scan, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.scan.clone(), h.err
	}
}

// update mutates the scan record unless it is already terminal.
func (h *Handle) update(fn func(s *Scan)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scan.State.Terminal() {
		return
	}
	fn(h.scan)
}

func (h *Handle) event(event Event, now time.Time) Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event.ScanID = h.scan.ID
	event.TenantID = h.scan.TenantID
	event.BenchmarkID = h.scan.BenchmarkID
	event.State = h.scan.State
	event.Summary = h.scan.Summary
	event.Completed = len(h.scan.Results)
	event.Expected = h.scan.Expected
	event.FailureReason = h.scan.FailureReason
	event.Time = now
	return event
}

// Start validates the request and starts the scan in the background. The
// scan is cancelled when ctx is done.
func (r *Runtime) Start(ctx context.Context, req Request) (*Handle, error) {
	if req.TenantID == "" {
		return nil, errors.New("missing tenant id")
	}
	if req.Benchmark.ID == "" {
		return nil, errors.New("missing benchmark id")
	}
	if req.Selector != "" {
		if _, err := catalogue.NewSelector(req.Selector); err != nil {
			return nil, fmt.Errorf("invalid selector: %w", err)
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.scan = &Scan{
		ID:               h.id,
		TenantID:         req.TenantID,
		BenchmarkID:      req.Benchmark.ID,
		BenchmarkVersion: req.Benchmark.Version,
		Level:            req.Level,
		Selector:         req.Selector,
		State:            StatePending,
		CreatedAt:        r.now(),
		Results:          []executor.Result{},
	}
	if r.cfg.Registry != nil {
		r.cfg.Registry.add(h)
	}

	go r.drive(scanCtx, h, req)
	return h, nil
}

// Run starts a scan and waits for it to be terminal.
func (r *Runtime) Run(ctx context.Context, req Request) (*Scan, error) {
	h, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	<-h.done
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.scan.clone(), h.err
}

func (r *Runtime) drive(ctx context.Context, h *Handle, req Request) {
	defer close(h.done)
	defer h.cancel()

	logger := r.logger.With(
		slog.String("scan-id", h.id),
		slog.String("tenant", req.TenantID),
		slog.String("benchmark", req.Benchmark.String()))

	started := r.now()
	h.update(func(s *Scan) {
		s.State = StateRunning
		s.StartedAt = &started
	})
	r.notify(ctx, h, Event{Type: EventScanStarted})

	creds, err := r.cfg.Resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		r.abort(ctx, h, logger, fmt.Sprintf("cannot resolve credentials: %v", err))
		return
	}
	benchmark, err := r.cfg.Catalogue.Resolve(req.Benchmark)
	if err != nil {
		r.abort(ctx, h, logger, fmt.Sprintf("cannot resolve benchmark: %v", err))
		return
	}
	// pin the version so that a catalogue reload cannot change it under us
	work, err := r.cfg.Catalogue.ListChecks(benchmark.Ref(), catalogue.Filter{Level: req.Level, Selector: req.Selector})
	if err != nil {
		r.abort(ctx, h, logger, fmt.Sprintf("cannot list checks: %v", err))
		return
	}

	modules := requiredModules(work)
	h.update(func(s *Scan) {
		s.BenchmarkVersion = benchmark.Version.String()
		s.Expected = len(work)
		s.RequiredModules = modules
	})
	logger.InfoContext(ctx, "work list ready",
		slog.String("version", benchmark.Version.String()),
		slog.Int("checks", len(work)),
		slog.Any("required-modules", modules))

	if len(work) == 0 {
		r.finish(ctx, h, logger, StateCompleted, "")
		return
	}

	state, reason := r.execute(ctx, h, logger, work, creds)
	r.finish(ctx, h, logger, state, reason)
}

// abort ends a scan that could not start running checks.
func (r *Runtime) abort(ctx context.Context, h *Handle, logger *slog.Logger, reason string) {
	if ctx.Err() != nil {
		r.finish(ctx, h, logger, StateCancelled, "")
		return
	}
	r.finish(ctx, h, logger, StateFailed, reason)
}

func (r *Runtime) execute(
	ctx context.Context,
	h *Handle,
	logger *slog.Logger,
	work []catalogue.Definition,
	creds *credentials.Set,
) (State, string) {
	// dispatch stops as soon as the scan is cancelled, running checks are
	// only killed when the grace period expires or the infrastructure policy
	// gives up
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	execCtx, killExecutions := context.WithCancel(context.WithoutCancel(ctx))
	defer killExecutions()
	allDone := make(chan struct{})
	defer close(allDone)

	results := make(chan executor.Result, len(work))
	dispatched := make([]bool, len(work))
	sem := semaphore.NewWeighted(int64(r.cfg.Parallelization.ParallelChecks))
	var g errgroup.Group

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for i, def := range work {
			if err := sem.Acquire(dispatchCtx, 1); err != nil {
				return
			}
			if dispatchCtx.Err() != nil {
				sem.Release(1)
				return
			}
			dispatched[i] = true
			g.Go(func() error {
				defer sem.Release(1)
				results <- r.cfg.Executor.Run(execCtx, def, creds)
				return nil
			})
		}
	}()
	go func() {
		<-dispatchDone
		_ = g.Wait()
		close(results)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-allDone:
			return
		}
		timer := time.NewTimer(r.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			logger.Warn("grace period expired, killing running checks", slog.Duration("grace-period", r.cfg.GracePeriod))
			killExecutions()
		case <-allDone:
		}
	}()

	agg := aggregator.New()
	tracker := newInfraTracker(r.cfg.InfraErrorPolicy.Threshold, r.patterns)
	fold := func(res executor.Result) {
		summary := agg.Fold(res)
		h.update(func(s *Scan) {
			s.Results = append(s.Results, res)
			s.Summary = summary
		})
		r.notify(ctx, h, Event{
			Type:             EventCheckCompleted,
			RecommendationID: res.RecommendationID,
			Status:           res.Status,
			Duration:         res.Duration,
		})
	}

	var (
		failure   string
		cancelled int
	)
	for res := range results {
		fold(res)
		if res.Status == executor.StatusError && res.Error == executor.CancelledMessage {
			cancelled++
		}
		if failure != "" {
			continue
		}
		if reason, exhausted := tracker.observe(res); exhausted {
			failure = reason
			logger.ErrorContext(ctx, "stopping scan", slog.String("reason", reason))
			stopDispatch()
			killExecutions()
		}
	}

	// every execution has been joined, dispatched is stable from here
	notRun := 0
	for i := range dispatched {
		if !dispatched[i] {
			notRun++
		}
	}

	if failure != "" {
		for i, def := range work {
			if dispatched[i] {
				continue
			}
			res := executor.ErrorResult(def.RecommendationID, "not run: "+failure)
			res.StartedAt = r.now()
			fold(res)
		}
		return StateFailed, failure
	}
	if ctx.Err() != nil && (notRun > 0 || cancelled > 0) {
		return StateCancelled, ""
	}
	return StateCompleted, ""
}

func (r *Runtime) finish(ctx context.Context, h *Handle, logger *slog.Logger, state State, reason string) {
	completed := r.now()
	h.update(func(s *Scan) {
		s.State = state
		s.CompletedAt = &completed
		if state == StateFailed {
			s.FailureReason = reason
		}
	})

	snapshot := h.Snapshot()
	logger.InfoContext(ctx, "scan finished",
		slog.String("state", string(state)),
		slog.Int("results", len(snapshot.Results)),
		slog.Int("expected", snapshot.Expected),
		slog.Float64("compliance", snapshot.Summary.Compliance))

	if r.cfg.RecordStore != nil {
		if err := r.cfg.RecordStore.SaveScan(context.WithoutCancel(ctx), snapshot); err != nil {
			logger.ErrorContext(ctx, "failed to store scan record", slog.String("error", err.Error()))
			h.mu.Lock()
			h.err = fmt.Errorf("failed to store scan %s: %w", h.id, err)
			h.mu.Unlock()
		}
	}
	r.notify(ctx, h, Event{Type: EventScanFinished})
}

func (r *Runtime) notify(ctx context.Context, h *Handle, event Event) {
	r.cfg.Notifier.Notify(context.WithoutCancel(ctx), h.event(event, r.now()))
}
