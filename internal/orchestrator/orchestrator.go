// Package orchestrator owns the run loop: it builds the configured venue
// listeners, routes their action batches through a shared buffer, and commits
// the buffer to the store in fixed-size batches.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/config"
	"github.com/depthwatch/depthwatch/internal/listener"
	"github.com/depthwatch/depthwatch/internal/metrics"
	"github.com/depthwatch/depthwatch/internal/store"
)

const (
	// commitInterval is the buffered-action count that triggers a flush.
	commitInterval = 100
	// maxBuffered bounds the buffer when the store is down. Beyond it the
	// oldest actions are dropped, loudly.
	maxBuffered = 10000
)

// Orchestrator coordinates the venue listeners and the commit loop.
type Orchestrator struct {
	st        *store.Store
	cfg       *config.Config
	sessionID uuid.UUID

	listeners []listener.Listener
	commit    func(ctx context.Context, acts []actions.Action) error

	runCtx context.Context

	mu  sync.Mutex
	buf []actions.Action

	stopOnce sync.Once
}

// New resolves each requested venue against the exchanges table and builds
// its listener. Unknown venues and missing venue configuration are fatal.
func New(ctx context.Context, st *store.Store, cfg *config.Config, venues []string) (*Orchestrator, error) {
	if len(venues) == 0 {
		venues = listener.Registered()
	}
	o := &Orchestrator{
		st:        st,
		cfg:       cfg,
		sessionID: uuid.New(),
		runCtx:    context.Background(),
	}
	o.commit = func(ctx context.Context, acts []actions.Action) error {
		return actions.Commit(ctx, st, acts)
	}

	for _, name := range venues {
		venue, err := cfg.Venue(name)
		if err != nil {
			return nil, err
		}
		exchange, err := st.ExchangeByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve venue %q: %w", name, err)
		}
		l, err := listener.New(name, exchange, o.onEvent, venue)
		if err != nil {
			return nil, fmt.Errorf("build listener %q: %w", name, err)
		}
		o.listeners = append(o.listeners, l)
	}
	return o, nil
}

// Venues returns the names of the venues the orchestrator was built for.
func (o *Orchestrator) Venues() []string {
	names := make([]string, 0, len(o.listeners))
	for _, l := range o.listeners {
		names = append(names, l.Exchange().Name)
	}
	return names
}

// Start runs every listener concurrently and blocks until all of them have
// stopped, then flushes the residual buffer. Listener failures are logged and
// terminate only the failed listener.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runCtx = ctx
	log.Info().Str("session", o.sessionID.String()).Strs("venues", o.Venues()).Msg("starting listeners")

	var wg sync.WaitGroup
	for _, l := range o.listeners {
		wg.Add(1)
		metrics.Default().ListenersActive.Inc()
		go func(l listener.Listener) {
			defer wg.Done()
			defer metrics.Default().ListenersActive.Dec()
			if err := l.Listen(ctx); err != nil {
				log.Error().Err(err).Str("venue", l.Exchange().Name).Msg("listener terminated")
			}
		}(l)
	}
	wg.Wait()

	// Whatever arrived after the last full batch still gets persisted.
	if err := o.flush(context.WithoutCancel(ctx), 0); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	log.Info().Str("session", o.sessionID.String()).Msg("all listeners stopped")
	return nil
}

// Stop requests termination of every listener. Idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		log.Info().Str("session", o.sessionID.String()).Msg("stopping listeners")
		for _, l := range o.listeners {
			l.Close()
		}
	})
}

// GetMarkets runs every listener's one-shot market fetch in parallel and
// commits the resulting actions through the shared buffer.
func (o *Orchestrator) GetMarkets(ctx context.Context) error {
	o.runCtx = ctx

	var wg sync.WaitGroup
	errs := make([]error, len(o.listeners))
	for i, l := range o.listeners {
		wg.Add(1)
		go func(i int, l listener.Listener) {
			defer wg.Done()
			acts, err := l.GetMarkets(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("fetch markets for %q: %w", l.Exchange().Name, err)
				return
			}
			o.onEvent(l, acts)
		}(i, l)
	}
	wg.Wait()

	if err := o.flush(ctx, 0); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// onEvent is the listener emit sink. Batches append to the shared buffer;
// reaching the commit interval triggers a full drain.
func (o *Orchestrator) onEvent(_ listener.Listener, acts []actions.Action) {
	o.mu.Lock()
	o.buf = append(o.buf, acts...)
	n := len(o.buf)
	o.mu.Unlock()

	if n >= commitInterval {
		if err := o.flush(o.runCtx, commitInterval); err != nil {
			log.Error().Err(err).Int("buffered", n).Msg("commit failed, retaining buffer")
		}
	}
}

// flush drains the buffer and commits it. With threshold > 0 the flush is a
// no-op below the threshold, so concurrent emitters do not race into
// undersized batches. On commit failure the drained actions are put back at
// the front of the buffer and the buffer is clipped to maxBuffered.
func (o *Orchestrator) flush(ctx context.Context, threshold int) error {
	o.mu.Lock()
	if len(o.buf) < threshold || len(o.buf) == 0 {
		o.mu.Unlock()
		return nil
	}
	batch := o.buf
	o.buf = nil
	o.mu.Unlock()

	err := o.commit(ctx, batch)
	if err == nil {
		metrics.Default().ActionsCommitted.Add(float64(len(batch)))
		log.Debug().Int("actions", len(batch)).Msg("batch committed")
		return nil
	}

	var partial *actions.PartialCommitError
	if errors.As(err, &partial) {
		// The batch landed minus the offenders; nothing to retain.
		metrics.Default().ActionsCommitted.Add(float64(partial.Total - partial.Skipped))
		metrics.Default().ActionsDropped.WithLabelValues("unexecutable").Add(float64(partial.Skipped))
		log.Warn().Err(partial.Err).Int("skipped", partial.Skipped).Int("total", partial.Total).
			Msg("batch committed partially")
		return nil
	}

	metrics.Default().CommitFailures.Inc()
	o.mu.Lock()
	o.buf = append(batch, o.buf...)
	if overflow := len(o.buf) - maxBuffered; overflow > 0 {
		o.buf = o.buf[overflow:]
		metrics.Default().ActionsDropped.WithLabelValues("overflow").Add(float64(overflow))
		log.Error().Int("dropped", overflow).Msg("action buffer overflow, oldest actions dropped")
	}
	o.mu.Unlock()
	return err
}
