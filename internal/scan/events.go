package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kubewarden/posture-scanner/internal/aggregator"
	"github.com/kubewarden/posture-scanner/internal/executor"
)

// EventType identifies a progress event.
type EventType string

const (
	EventScanStarted    EventType = "scan-started"
	EventCheckCompleted EventType = "check-completed"
	EventScanFinished   EventType = "scan-finished"
)

// Event is a progress notification. Events of one scan are emitted in order
// by a single goroutine and Summary is always the running total.
type Event struct {
	Type             EventType          `json:"type"`
	ScanID           string             `json:"scanId"`
	TenantID         string             `json:"tenantId"`
	BenchmarkID      string             `json:"benchmarkId"`
	RecommendationID string             `json:"recommendationId,omitempty"`
	Status           executor.Status    `json:"status,omitempty"`
	Duration         time.Duration      `json:"duration,omitempty"`
	State            State              `json:"state"`
	Summary          aggregator.Summary `json:"runningSummary"`
	Completed        int                `json:"completed"`
	Expected         int                `json:"expected"`
	FailureReason    string             `json:"failureReason,omitempty"`
	Time             time.Time          `json:"time"`
}

// A Notifier receives progress events. Notify must not block for long: it
// runs on the goroutine collecting results.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event)

func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}

// Notifiers returns a Notifier forwarding every event to all the given
// notifiers, in order. Nil notifiers are skipped.
func Notifiers(notifiers ...Notifier) Notifier {
	var m multiNotifier
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

// LogNotifier logs every event.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "progress")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("scan-id", event.ScanID),
		slog.String("tenant", event.TenantID),
		slog.String("state", string(event.State)),
		slog.Int("completed", event.Completed),
		slog.Int("expected", event.Expected),
		slog.Int("passed", event.Summary.Passed),
		slog.Int("failed", event.Summary.Failed),
		slog.Int("errored", event.Summary.Errored),
	}
	switch event.Type {
	case EventCheckCompleted:
		attrs = append(attrs,
			slog.String("check", event.RecommendationID),
			slog.String("status", string(event.Status)),
			slog.Duration("duration", event.Duration))
		n.logger.LogAttrs(ctx, slog.LevelDebug, "check completed", attrs...)
	case EventScanStarted:
		n.logger.LogAttrs(ctx, slog.LevelInfo, "scan started", attrs...)
	case EventScanFinished:
		attrs = append(attrs, slog.Float64("compliance", event.Summary.Compliance))
		if event.FailureReason != "" {
			attrs = append(attrs, slog.String("reason", event.FailureReason))
		}
		n.logger.LogAttrs(ctx, slog.LevelInfo, "scan finished", attrs...)
	}
}

// Broadcaster fans events out to subscribers. Each subscriber owns a
// buffered channel; events that do not fit in a full buffer are dropped for
// that subscriber only.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	buffer  int
	dropped int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel receiving future events and a function that
// closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *Broadcaster) Notify(_ context.Context, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// too slow.
func (b *Broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
