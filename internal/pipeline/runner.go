// Package pipeline connects a message source and sink around the transformer.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"httpclient-processor/internal/metrics"
	"httpclient-processor/internal/model"
)

// EmitFunc is what a source calls for every inbound message.
type EmitFunc func(ctx context.Context, msg *model.Message) error

// Source delivers inbound messages until ctx is canceled.
type Source interface {
	Run(ctx context.Context, emit EmitFunc) error
	Close() error
}

// Sink accepts outbound messages.
type Sink interface {
	Push(ctx context.Context, out *model.Outbound) error
	Close() error
}

// HandleFunc processes one message and reports whether out should be emitted.
type HandleFunc func(ctx context.Context, msg *model.Message) (out *model.Outbound, ok bool)

// Source states reported by Runner.SourceState.
const (
	SourceNone    = "none"
	SourceIdle    = "idle"
	SourceRunning = "running"
	SourceStopped = "stopped"
	SourceFailed  = "failed"
)

// Runner drives a Source through a HandleFunc into a Sink.
type Runner struct {
	source  Source
	sink    Sink
	handle  HandleFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	state     string
	sourceErr error
}

// NewRunner creates a Runner. source may be nil when messages arrive only
// through the HTTP ingress. The metrics parameter is optional.
func NewRunner(source Source, sink Sink, handle HandleFunc, logger *slog.Logger, m *metrics.Metrics) *Runner {
	state := SourceIdle
	if source == nil {
		state = SourceNone
	}
	return &Runner{
		source:  source,
		sink:    sink,
		handle:  handle,
		logger:  logger.With("component", "runner"),
		metrics: m,
		state:   state,
	}
}

// SourceState reports what the source is doing and, once it has failed,
// the error it stopped with.
func (r *Runner) SourceState() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.sourceErr
}

func (r *Runner) setSourceState(state string, err error) {
	r.mu.Lock()
	r.state, r.sourceErr = state, err
	r.mu.Unlock()
}

// Deliver runs msg through the handler and pushes any result to the sink.
// Sink failures are logged and counted, never returned.
func (r *Runner) Deliver(ctx context.Context, msg *model.Message) (*model.Outbound, bool) {
	out, ok := r.handle(ctx, msg)
	if !ok {
		return nil, false
	}
	if r.sink != nil {
		if err := r.sink.Push(ctx, out); err != nil {
			r.logger.Error("sink push failed", "message_id", out.ID, "err", err)
			if r.metrics != nil {
				r.metrics.SinkPushFailures.Inc()
			}
		}
	}
	return out, true
}

func (r *Runner) emit(ctx context.Context, msg *model.Message) error {
	r.Deliver(ctx, msg)
	return nil
}

// Start launches the source in the background. It is a no-op without a source.
func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		r.logger.Info("no source configured; accepting messages over HTTP only")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("runner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = SourceRunning

	go func() {
		defer close(r.done)
		err := r.source.Run(runCtx, r.emit)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.setSourceState(SourceFailed, err)
			r.logger.Error("source failed; no further messages will be consumed", "err", err)
			return
		}
		r.setSourceState(SourceStopped, nil)
		r.logger.Info("source stopped")
	}()
	return nil
}

// Stop cancels the source, waits for it up to ctx, and closes source and sink.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("source did not stop before shutdown deadline")
		}
	}

	var errs []error
	if r.source != nil {
		errs = append(errs, r.source.Close())
	}
	if r.sink != nil {
		errs = append(errs, r.sink.Close())
	}
	return errors.Join(errs...)
}
