package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthwatch/depthwatch/internal/actions"
)

type commitRecorder struct {
	mu      sync.Mutex
	batches [][]actions.Action
	fail    error
}

func (r *commitRecorder) commit(_ context.Context, acts []actions.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.batches = append(r.batches, acts)
	return nil
}

func (r *commitRecorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.batches))
	for i, b := range r.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func newTestOrchestrator(rec *commitRecorder) *Orchestrator {
	return &Orchestrator{
		commit: rec.commit,
		runCtx: context.Background(),
	}
}

func emitN(o *Orchestrator, n int) {
	for i := 0; i < n; i++ {
		o.onEvent(nil, []actions.Action{actions.NewInsert()})
	}
}

func TestBufferFlushesAtCommitInterval(t *testing.T) {
	rec := &commitRecorder{}
	o := newTestOrchestrator(rec)

	emitN(o, 250)
	require.NoError(t, o.flush(context.Background(), 0))

	assert.Equal(t, []int{100, 100, 50}, rec.sizes())
	o.mu.Lock()
	assert.Empty(t, o.buf)
	o.mu.Unlock()
}

func TestResidualBufferFlushes(t *testing.T) {
	rec := &commitRecorder{}
	o := newTestOrchestrator(rec)

	emitN(o, 37)
	assert.Empty(t, rec.sizes())

	require.NoError(t, o.flush(context.Background(), 0))
	assert.Equal(t, []int{37}, rec.sizes())
}

func TestFlushBelowThresholdIsNoop(t *testing.T) {
	rec := &commitRecorder{}
	o := newTestOrchestrator(rec)

	emitN(o, 50)
	require.NoError(t, o.flush(context.Background(), commitInterval))
	assert.Empty(t, rec.sizes())

	o.mu.Lock()
	assert.Len(t, o.buf, 50)
	o.mu.Unlock()
}

func TestCommitFailureRetainsBuffer(t *testing.T) {
	rec := &commitRecorder{fail: errors.New("store down")}
	o := newTestOrchestrator(rec)

	emitN(o, 120)
	o.mu.Lock()
	buffered := len(o.buf)
	o.mu.Unlock()
	assert.Equal(t, 120, buffered)

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()

	emitN(o, 10)
	require.NoError(t, o.flush(context.Background(), 0))
	assert.Equal(t, []int{130}, rec.sizes())
}

func TestPartialCommitDoesNotRetain(t *testing.T) {
	rec := &commitRecorder{fail: &actions.PartialCommitError{Skipped: 2, Total: 100, Err: errors.New("bad row")}}
	o := newTestOrchestrator(rec)

	emitN(o, 100)
	o.mu.Lock()
	buffered := len(o.buf)
	o.mu.Unlock()
	assert.Zero(t, buffered)
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	rec := &commitRecorder{fail: errors.New("store down")}
	o := newTestOrchestrator(rec)

	emitN(o, maxBuffered+500)

	o.mu.Lock()
	buffered := len(o.buf)
	o.mu.Unlock()
	assert.Equal(t, maxBuffered, buffered)
}
