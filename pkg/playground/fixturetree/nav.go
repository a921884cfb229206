package fixturetree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/router"
	"go.uber.org/zap"
)

var (
	ErrNoRenderer     = errors.New("no renderer is connected")
	ErrUnknownFixture = errors.New("fixture is not in the fixture list")
)

// Requester posts renderer requests. *router.Router satisfies it.
type Requester interface {
	PostRendererRequest(ctx context.Context, msg playground.RendererRequest)
}

// Nav is the navigation state of the playground. It learns about renderers
// and fixtures from renderer responses, and sends selection requests to
// every known renderer.
type Nav struct {
	fixturesDir       string
	fixtureFileSuffix string
	logger            *zap.Logger

	mu          sync.RWMutex
	rendererIDs []string
	fixtures    playground.FixtureNamesByPath
	selected    *playground.FixtureID
	expansion   TreeExpansion
}

// NewNav creates an empty Nav. fixturesDir and fixtureFileSuffix are
// passed on to Build.
func NewNav(fixturesDir, fixtureFileSuffix string, logger *zap.Logger) *Nav {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nav{
		fixturesDir:       fixturesDir,
		fixtureFileSuffix: fixtureFileSuffix,
		logger:            logger,
		fixtures:          playground.FixtureNamesByPath{},
		expansion:         TreeExpansion{},
	}
}

// HandleRendererResponse is a router.RendererResponseHandler.
func (n *Nav) HandleRendererResponse(ctx *router.Context, msg playground.RendererResponse) error {
	decoded, err := msg.Decode()
	if err != nil {
		return err
	}

	switch m := decoded.(type) {
	case playground.RendererReady:
		n.rendererReady(m)
	case playground.FixtureListUpdate:
		n.setFixtures(m.RendererID, m.Fixtures)
	}
	return nil
}

func (n *Nav) rendererReady(msg playground.RendererReady) {
	n.mu.Lock()
	defer n.mu.Unlock()

	known := false
	for _, id := range n.rendererIDs {
		if id == msg.RendererID {
			known = true
			break
		}
	}
	if !known {
		n.rendererIDs = append(n.rendererIDs, msg.RendererID)
		n.logger.Info("Renderer connected", zap.String("renderer_id", msg.RendererID), zap.Int("fixtures", len(msg.Fixtures)))
	}

	// Only the primary renderer's list is shown.
	if msg.RendererID == n.rendererIDs[0] {
		n.fixtures = copyFixtures(msg.Fixtures)
	}
}

func (n *Nav) setFixtures(rendererID string, fixtures playground.FixtureNamesByPath) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.rendererIDs) == 0 || rendererID != n.rendererIDs[0] {
		return
	}
	n.fixtures = copyFixtures(fixtures)

	if n.selected != nil && !hasFixture(n.fixtures, *n.selected) {
		n.logger.Info("Selected fixture was removed", zap.Stringer("fixture", *n.selected))
		n.selected = nil
	}
}

// SelectFixture selects id and asks every renderer to show it.
func (n *Nav) SelectFixture(ctx context.Context, requester Requester, id playground.FixtureID) error {
	n.mu.Lock()
	if len(n.rendererIDs) == 0 {
		n.mu.Unlock()
		return ErrNoRenderer
	}
	if !hasFixture(n.fixtures, id) {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFixture, id)
	}
	selected := id
	n.selected = &selected
	rendererIDs := append([]string(nil), n.rendererIDs...)
	n.mu.Unlock()

	for _, rendererID := range rendererIDs {
		req, err := playground.SelectFixtureRequest(rendererID, id, nil)
		if err != nil {
			return err
		}
		requester.PostRendererRequest(ctx, req)
	}
	return nil
}

// UnselectFixture clears the selection on the playground and renderers.
func (n *Nav) UnselectFixture(ctx context.Context, requester Requester) error {
	n.mu.Lock()
	n.selected = nil
	rendererIDs := append([]string(nil), n.rendererIDs...)
	n.mu.Unlock()

	for _, rendererID := range rendererIDs {
		req, err := playground.UnselectFixtureRequest(rendererID)
		if err != nil {
			return err
		}
		requester.PostRendererRequest(ctx, req)
	}
	return nil
}

// ToggleExpansion sets whether the directory at nodePath is expanded.
func (n *Nav) ToggleExpansion(nodePath string, expanded bool) {
	if nodePath == "" {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if expanded {
		n.expansion[nodePath] = true
	} else {
		delete(n.expansion, nodePath)
	}
}

// ExpandAll expands every directory of the current tree.
func (n *Nav) ExpandAll() {
	tree := n.Tree()

	n.mu.Lock()
	defer n.mu.Unlock()
	expandAll(tree, nil, n.expansion)
}

func expandAll(node *Node, parents []string, expansion TreeExpansion) {
	for name, dir := range node.Dirs {
		next := append(append([]string(nil), parents...), name)
		expansion[NodePath(next)] = true
		expandAll(dir, next, expansion)
	}
}

// RendererConnected reports whether any renderer has announced itself.
func (n *Nav) RendererConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rendererIDs) > 0
}

// RendererIDs returns the known renderers, primary first.
func (n *Nav) RendererIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.rendererIDs...)
}

// PrimaryRendererID returns the renderer whose fixture list is shown.
func (n *Nav) PrimaryRendererID() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.rendererIDs) == 0 {
		return "", ErrNoRenderer
	}
	return n.rendererIDs[0], nil
}

// Selected returns the selected fixture, if any.
func (n *Nav) Selected() (playground.FixtureID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.selected == nil {
		return playground.FixtureID{}, false
	}
	return *n.selected, true
}

// Tree builds the tree of the current fixture list.
func (n *Nav) Tree() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Build(n.fixtures, n.fixturesDir, n.fixtureFileSuffix)
}

// Render writes the current tree. Nothing is written until a renderer has
// connected.
func (n *Nav) Render(w io.Writer, showURLs bool) error {
	if !n.RendererConnected() {
		return nil
	}

	tree := n.Tree()

	n.mu.RLock()
	opts := RenderOptions{
		Expansion: make(TreeExpansion, len(n.expansion)),
		Selected:  n.selected,
		ShowURLs:  showURLs,
	}
	for k, v := range n.expansion {
		opts.Expansion[k] = v
	}
	n.mu.RUnlock()

	return Render(w, tree, opts)
}

// Reset forgets renderers and fixtures, e.g. after the dev server
// connection was lost. Expansion state is kept.
func (n *Nav) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rendererIDs = nil
	n.fixtures = playground.FixtureNamesByPath{}
	n.selected = nil
}

func hasFixture(fixtures playground.FixtureNamesByPath, id playground.FixtureID) bool {
	names, ok := fixtures[id.Path]
	if !ok {
		return false
	}
	if id.Name == nil {
		return names == nil
	}
	for _, name := range names {
		if name == *id.Name {
			return true
		}
	}
	return false
}

func copyFixtures(fixtures playground.FixtureNamesByPath) playground.FixtureNamesByPath {
	out := make(playground.FixtureNamesByPath, len(fixtures))
	for path, names := range fixtures {
		if names == nil {
			out[path] = nil
			continue
		}
		out[path] = append([]string{}, names...)
	}
	return out
}
