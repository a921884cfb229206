package fixturetree

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/router"
	"go.uber.org/zap/zaptest"
)

func testFixtures() playground.FixtureNamesByPath {
	return playground.FixtureNamesByPath{
		"Intro.js":                           nil,
		"src/__fixtures__/Button.fixture.js": nil,
		"src/components/Card.js":             {"small", "large"},
		"src/forms/deep/Input.js":            nil,
		"src/helpers/format.js":              nil,
	}
}

func TestBuild(t *testing.T) {
	root := Build(testFixtures(), "__fixtures__", "fixture")

	assert.Equal(t, map[string]playground.FixtureID{"Intro": playground.DefaultFixtureID("Intro.js")}, root.Items)
	require.Contains(t, root.Dirs, "src")

	src := root.Dirs["src"]
	assert.Equal(t, playground.DefaultFixtureID("src/__fixtures__/Button.fixture.js"), src.Items["Button"])
	assert.NotContains(t, src.Dirs, "__fixtures__")

	card := src.Dirs["components"].Dirs["Card"]
	require.NotNil(t, card)
	assert.Equal(t, playground.NewFixtureID("src/components/Card.js", "small"), card.Items["small"])
	assert.Equal(t, playground.NewFixtureID("src/components/Card.js", "large"), card.Items["large"])

	assert.Equal(t, 6, Count(root))
}

func TestBuildWithoutFixturesDirOrSuffix(t *testing.T) {
	root := Build(playground.FixtureNamesByPath{"a/b.fixture.tsx": nil}, "", "")
	assert.Contains(t, root.Dirs["a"].Items, "b.fixture")
}

func TestSortedDirNames(t *testing.T) {
	root := Build(playground.FixtureNamesByPath{
		"zeta/deep/x.js": nil,
		"alpha/y.js":     nil,
		"beta/deep/z.js": nil,
		"gamma/w.js":     nil,
	}, "", "")

	assert.Equal(t, []string{"beta", "zeta", "alpha", "gamma"}, SortedDirNames(root))
}

func TestNodePathAndExpansion(t *testing.T) {
	assert.Equal(t, "", NodePath(nil))
	assert.Equal(t, "src/components", NodePath([]string{"src", "components"}))

	expansion := TreeExpansion{"src": true}
	assert.True(t, expansion.IsExpanded(""), "root is always expanded")
	assert.True(t, expansion.IsExpanded("src"))
	assert.False(t, expansion.IsExpanded("src/components"))
}

func TestFind(t *testing.T) {
	root := Build(testFixtures(), "__fixtures__", "fixture")

	parents, name, ok := Find(root, playground.NewFixtureID("src/components/Card.js", "large"))
	require.True(t, ok)
	assert.Equal(t, []string{"src", "components", "Card"}, parents)
	assert.Equal(t, "large", name)

	_, _, ok = Find(root, playground.DefaultFixtureID("missing.js"))
	assert.False(t, ok)
}

func plainRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(&bytes.Buffer{})
	r.SetColorProfile(termenv.Ascii)
	return r
}

func TestRender(t *testing.T) {
	root := Build(testFixtures(), "__fixtures__", "fixture")
	selected := playground.NewFixtureID("src/components/Card.js", "small")

	var out bytes.Buffer
	err := Render(&out, root, RenderOptions{
		Expansion: TreeExpansion{"src": true, "src/components": true, "src/components/Card": true},
		Selected:  &selected,
		Renderer:  plainRenderer(),
	})
	require.NoError(t, err)

	expected := "" +
		"  ▾ src/\n" +
		"    ▾ components/\n" +
		"      ▾ Card/\n" +
		"          large\n" +
		">         small\n" +
		"    ▸ forms/\n" +
		"    ▸ helpers/\n" +
		"      Button\n" +
		"    Intro\n"
	assert.Equal(t, expected, out.String())
}

func TestRenderCollapsed(t *testing.T) {
	root := Build(testFixtures(), "__fixtures__", "fixture")

	var out bytes.Buffer
	require.NoError(t, Render(&out, root, RenderOptions{Renderer: plainRenderer(), ShowURLs: true}))

	assert.Equal(t, "  ▸ src/\n    Intro  "+playground.FixtureURL(playground.DefaultFixtureID("Intro.js"))+"\n", out.String())
}

type recordingRequester struct {
	requests []playground.RendererRequest
}

func (r *recordingRequester) PostRendererRequest(ctx context.Context, msg playground.RendererRequest) {
	r.requests = append(r.requests, msg)
}

func rendererResponse(t *testing.T, msgType string, payload any) playground.RendererResponse {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return playground.RendererResponse{Type: msgType, Payload: data}
}

func TestNavTracksRenderers(t *testing.T) {
	nav := NewNav("__fixtures__", "fixture", zaptest.NewLogger(t))
	hctx := &router.Context{Context: context.Background()}

	assert.False(t, nav.RendererConnected())
	var out bytes.Buffer
	require.NoError(t, nav.Render(&out, false))
	assert.Empty(t, out.String(), "nothing is rendered before a renderer connects")

	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"ein.js": nil, "zwei.js": nil}})))
	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r2", Fixtures: playground.FixtureNamesByPath{"other.js": nil}})))
	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"ein.js": nil, "zwei.js": nil}})))

	assert.True(t, nav.RendererConnected())
	assert.Equal(t, []string{"r1", "r2"}, nav.RendererIDs())
	primary, err := nav.PrimaryRendererID()
	require.NoError(t, err)
	assert.Equal(t, "r1", primary)
	assert.Equal(t, 2, Count(nav.Tree()), "only the primary renderer's fixtures are shown")

	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseFixtureListUpdate,
		playground.FixtureListUpdate{RendererID: "r2", Fixtures: playground.FixtureNamesByPath{}})))
	assert.Equal(t, 2, Count(nav.Tree()))

	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseFixtureListUpdate,
		playground.FixtureListUpdate{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"drei.js": nil}})))
	assert.Equal(t, 1, Count(nav.Tree()))

	nav.Reset()
	assert.False(t, nav.RendererConnected())
	_, err = nav.PrimaryRendererID()
	assert.ErrorIs(t, err, ErrNoRenderer)
}

func TestNavIgnoresOtherMessages(t *testing.T) {
	nav := NewNav("", "", nil)
	hctx := &router.Context{Context: context.Background()}

	assert.NoError(t, nav.HandleRendererResponse(hctx, playground.RendererResponse{Type: "somethingNew"}))
	assert.Error(t, nav.HandleRendererResponse(hctx, playground.RendererResponse{Type: playground.ResponseRendererReady}))
	assert.False(t, nav.RendererConnected())
}

func TestNavSelectFixture(t *testing.T) {
	nav := NewNav("", "", nil)
	hctx := &router.Context{Context: context.Background()}
	requester := &recordingRequester{}
	id := playground.DefaultFixtureID("ein.js")

	assert.ErrorIs(t, nav.SelectFixture(context.Background(), requester, id), ErrNoRenderer)

	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"ein.js": nil, "multi.js": {"a"}}})))
	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r2", Fixtures: playground.FixtureNamesByPath{}})))

	assert.ErrorIs(t, nav.SelectFixture(context.Background(), requester, playground.DefaultFixtureID("nope.js")), ErrUnknownFixture)
	assert.ErrorIs(t, nav.SelectFixture(context.Background(), requester, playground.NewFixtureID("ein.js", "x")), ErrUnknownFixture)
	assert.ErrorIs(t, nav.SelectFixture(context.Background(), requester, playground.DefaultFixtureID("multi.js")), ErrUnknownFixture)
	assert.Empty(t, requester.requests)

	require.NoError(t, nav.SelectFixture(context.Background(), requester, id))
	require.Len(t, requester.requests, 2)
	assert.Equal(t, playground.RequestSelectFixture, requester.requests[0].Type)
	assert.JSONEq(t, `{"rendererId":"r1","fixtureId":{"path":"ein.js","name":null},"fixtureState":{}}`, string(requester.requests[0].Payload))
	assert.JSONEq(t, `{"rendererId":"r2","fixtureId":{"path":"ein.js","name":null},"fixtureState":{}}`, string(requester.requests[1].Payload))

	selected, ok := nav.Selected()
	require.True(t, ok)
	assert.True(t, selected.Equal(id))

	// Removing the selected fixture from the list clears the selection.
	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseFixtureListUpdate,
		playground.FixtureListUpdate{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"multi.js": {"a"}}})))
	_, ok = nav.Selected()
	assert.False(t, ok)

	require.NoError(t, nav.UnselectFixture(context.Background(), requester))
	require.Len(t, requester.requests, 4)
	assert.Equal(t, playground.RequestUnselectFixture, requester.requests[2].Type)
}

func TestNavExpansion(t *testing.T) {
	nav := NewNav("", "", nil)
	hctx := &router.Context{Context: context.Background()}
	require.NoError(t, nav.HandleRendererResponse(hctx, rendererResponse(t, playground.ResponseRendererReady,
		playground.RendererReady{RendererID: "r1", Fixtures: playground.FixtureNamesByPath{"a/b/c.js": nil}})))

	nav.ToggleExpansion("a", true)
	nav.ToggleExpansion("", false)
	nav.mu.RLock()
	assert.Equal(t, TreeExpansion{"a": true}, nav.expansion)
	nav.mu.RUnlock()

	nav.ToggleExpansion("a", false)
	nav.ExpandAll()
	nav.mu.RLock()
	assert.Equal(t, TreeExpansion{"a": true, "a/b": true}, nav.expansion)
	nav.mu.RUnlock()
}
