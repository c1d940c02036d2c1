package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 5 * time.Second

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Recorder is the per-run event context. Emit is synchronous and serialized,
// so sinks observe events in the order they were recorded even when sources
// run concurrently.
type Recorder struct {
	runID       string
	clock       Clock
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration

	mu     sync.Mutex
	seq    int64
	closed bool
	events []Event
}

// NewRecorder builds a Recorder for runID. A nil clock uses the wall clock.
func NewRecorder(runID string, clock Clock, logger *zap.Logger, sinks ...Sink) *Recorder {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		runID:       runID,
		clock:       clock,
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
	}
}

// Emit stamps evt and delivers it to every sink. Sink failures are logged and
// never propagate to the caller.
func (r *Recorder) Emit(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	evt.RunID = r.runID
	evt.Seq = r.seq
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	r.events = append(r.events, evt)
	batch := []Event{evt}
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			r.logger.Warn("progress sink failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
		}
		cancel()
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Close closes every sink. Later Emit calls are ignored.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
