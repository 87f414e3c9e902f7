// Package listener defines the per-venue exchange listener contract, the
// venue registry, and the shared reconnecting websocket session.
package listener

import (
	"context"
	"fmt"
	"sort"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/config"
	"github.com/depthwatch/depthwatch/internal/models"
)

// Emit is the sink listeners push parsed action batches into. Batches from
// one listener arrive in emission order; batches from distinct listeners may
// interleave.
type Emit func(l Listener, acts []actions.Action)

// Listener is one venue's ingestion task: it owns a websocket session and
// the venue's parsers.
type Listener interface {
	// Exchange returns the venue record the listener was built with.
	Exchange() models.Exchange
	// GetMarkets fetches the venue's market list once and returns the
	// actions describing it (coins, markets, exchange markets).
	GetMarkets(ctx context.Context) ([]actions.Action, error)
	// Listen streams venue events into the emit sink until the context is
	// cancelled or Close is called. Reconnects are internal.
	Listen(ctx context.Context) error
	// Close requests termination. Idempotent; no callbacks fire after the
	// listener reaches the closed state.
	Close()
}

// Constructor builds a venue listener. The registry maps venue names to
// constructors; it is populated from venue package init functions at process
// start.
type Constructor func(ex models.Exchange, emit Emit, venue config.Venue) (Listener, error)

var registry = make(map[string]Constructor)

// Register adds a venue constructor. Duplicate registration is a programmer
// error and panics.
func Register(name string, c Constructor) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("listener: duplicate registration for venue %q", name))
	}
	registry[name] = c
}

// New constructs the named venue's listener.
func New(name string, ex models.Exchange, emit Emit, venue config.Venue) (Listener, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", name)
	}
	return c(ex, emit, venue)
}

// Registered returns all venue names in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
