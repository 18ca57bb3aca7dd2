package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kubewarden/posture-scanner/internal/scan"
)

const eventsBuffer = 256

// eventSink writes the progress events of the scans as JSON lines.
type eventSink struct {
	broadcaster *scan.Broadcaster
	events      <-chan scan.Event
	unsubscribe func()
	done        chan struct{}
	err         error
	logger      *slog.Logger
}

func newEventSink(out io.Writer, logger *slog.Logger) *eventSink {
	broadcaster := scan.NewBroadcaster(eventsBuffer)
	events, unsubscribe := broadcaster.Subscribe()
	s := &eventSink{
		broadcaster: broadcaster,
		events:      events,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
		logger:      logger.With("component", "events"),
	}
	go s.run(out)
	return s
}

func (s *eventSink) run(out io.Writer) {
	defer close(s.done)

	encoder := json.NewEncoder(out)
	for event := range s.events {
		if s.err != nil {
			continue
		}
		if err := encoder.Encode(event); err != nil {
			s.err = fmt.Errorf("failed to write progress event: %w", err)
		}
	}
}

// Close stops the subscription and waits until the buffered events are
// written.
func (s *eventSink) Close(ctx context.Context) error {
	s.unsubscribe()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if dropped := s.broadcaster.Dropped(); dropped > 0 {
		s.logger.WarnContext(ctx, "progress events dropped", slog.Int("dropped", dropped))
	}
	return s.err
}
