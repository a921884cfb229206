// Package fixturestate follows the fixture state each renderer reports and
// publishes what changed between consecutive reports.
package fixturestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsarna/go-structdiff"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/router"
	"go.uber.org/zap"
)

// DeltaTopic is where Delta values are published on the plugin bus.
const DeltaTopic = bus.RendererTopicPrefix + playground.ResponseFixtureStateChange + "/delta"

var ErrNoState = errors.New("renderer has not reported a fixture state")

// Delta describes one fixture state change. Changes holds the keys whose
// values changed, with their new values; removed keys map to nil. Initial
// is set for the first state seen for a fixture, when Changes is the whole
// state.
type Delta struct {
	RendererID string               `json:"rendererId"`
	FixtureID  playground.FixtureID `json:"fixtureId"`
	Changes    map[string]any       `json:"changes"`
	Initial    bool                 `json:"initial,omitempty"`
}

// Requester posts renderer requests. *router.Router satisfies it.
type Requester interface {
	PostRendererRequest(ctx context.Context, msg playground.RendererRequest)
}

type entry struct {
	fixtureID playground.FixtureID
	state     map[string]any
}

// Tracker keeps the latest fixture state per renderer.
type Tracker struct {
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]entry
}

func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger: logger,
		states: make(map[string]entry),
	}
}

// HandleRendererResponse is a router.RendererResponseHandler. It records
// fixtureStateChange messages and publishes a Delta on DeltaTopic when the
// state actually changed.
func (t *Tracker) HandleRendererResponse(ctx *router.Context, msg playground.RendererResponse) error {
	if msg.Type != playground.ResponseFixtureStateChange {
		return nil
	}

	decoded, err := msg.Decode()
	if err != nil {
		return err
	}
	change := decoded.(playground.FixtureStateChange)

	delta, err := t.record(change)
	if err != nil {
		return err
	}
	if delta == nil || ctx.Bus == nil {
		return nil
	}

	return ctx.Bus.Publish(ctx, DeltaTopic, *delta)
}

func (t *Tracker) record(change playground.FixtureStateChange) (*Delta, error) {
	next := map[string]any(change.FixtureState)
	if next == nil {
		next = map[string]any{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.states[change.RendererID]
	t.states[change.RendererID] = entry{fixtureID: change.FixtureID, state: next}

	if !ok || !prev.fixtureID.Equal(change.FixtureID) {
		return &Delta{
			RendererID: change.RendererID,
			FixtureID:  change.FixtureID,
			Changes:    next,
			Initial:    true,
		}, nil
	}

	diff, err := structdiff.Diff(prev.state, next)
	if err != nil {
		return nil, fmt.Errorf("failed to diff fixture state of %s: %w", change.FixtureID, err)
	}
	changes := asMap(diff)
	if len(changes) == 0 {
		t.logger.Debug("Fixture state unchanged",
			zap.String("renderer_id", change.RendererID),
			zap.Stringer("fixture", change.FixtureID),
		)
		return nil, nil
	}

	return &Delta{
		RendererID: change.RendererID,
		FixtureID:  change.FixtureID,
		Changes:    changes,
	}, nil
}

// State returns the latest fixture and state reported by rendererID.
func (t *Tracker) State(rendererID string) (playground.FixtureID, playground.FixtureState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.states[rendererID]
	if !ok {
		return playground.FixtureID{}, nil, false
	}
	return e.fixtureID, playground.FixtureState(e.state), true
}

// SetFixtureState applies patch, a structural diff in the same format as
// Delta.Changes, to the state last reported by rendererID and asks the
// renderer to adopt the result. The tracked state changes only when the
// renderer reports back.
func (t *Tracker) SetFixtureState(ctx context.Context, requester Requester, rendererID string, patch map[string]any) error {
	t.mu.RLock()
	e, ok := t.states[rendererID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoState, rendererID)
	}

	target := deepCopy(e.state)
	if err := structdiff.Apply(&target, patch); err != nil {
		return fmt.Errorf("failed to apply fixture state patch: %w", err)
	}

	req, err := playground.SetFixtureStateRequest(rendererID, e.fixtureID, playground.FixtureState(target))
	if err != nil {
		return err
	}
	requester.PostRendererRequest(ctx, req)
	return nil
}

// Forget drops what is known about rendererID.
func (t *Tracker) Forget(rendererID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, rendererID)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
