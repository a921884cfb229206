package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/fixturestate"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestParseFixtureArgs(t *testing.T) {
	id, err := parseFixtureArgs([]string{"src/Button.fixture.js"})
	require.NoError(t, err)
	assert.True(t, id.Equal(playground.DefaultFixtureID("src/Button.fixture.js")))

	id, err = parseFixtureArgs([]string{"src/Card.js", "small"})
	require.NoError(t, err)
	assert.True(t, id.Equal(playground.NewFixtureID("src/Card.js", "small")))

	card := playground.NewFixtureID("src/Card.js", "large")
	id, err = parseFixtureArgs([]string{playground.FixtureURL(card)})
	require.NoError(t, err)
	assert.True(t, id.Equal(card))

	_, err = parseFixtureArgs([]string{playground.FixtureURL(card), "small"})
	assert.Error(t, err)
	_, err = parseFixtureArgs([]string{"?fixtureId=garbage"})
	assert.Error(t, err)
}

func TestParseStatePatch(t *testing.T) {
	patch, err := parseStatePatch([]string{"theme=dark", `props={"disabled":true}`, "count=3", "gone=null"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"theme": "dark",
		"props": map[string]any{"disabled": true},
		"count": 3.0,
		"gone":  nil,
	}, patch)

	_, err = parseStatePatch([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseStatePatch([]string{"=x"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zap.InfoLevel, parseLevel(""))
}

func TestDefaultIfExists(t *testing.T) {
	assert.Equal(t, []string{"a.hcl"}, defaultIfExists([]string{"a.hcl"}, "missing.hcl"))
	assert.Nil(t, defaultIfExists(nil, filepath.Join(t.TempDir(), "missing.hcl")))

	existing := filepath.Join(t.TempDir(), "playground.hcl")
	require.NoError(t, os.WriteFile(existing, nil, 0o600))
	assert.Equal(t, []string{existing}, defaultIfExists(nil, existing))
}

func TestPrintingSubscriber(t *testing.T) {
	var out bytes.Buffer
	printer := &printingSubscriber{out: &out, logger: zaptest.NewLogger(t)}

	require.NoError(t, printer.OnEvent(context.Background(), "server/buildDone",
		playground.ServerMessage{Type: playground.ServerBuildDone}, nil))
	require.NoError(t, printer.OnEvent(context.Background(), fixturestate.DeltaTopic,
		fixturestate.Delta{RendererID: "r1", FixtureID: playground.DefaultFixtureID("a.js"), Changes: map[string]any{"x": 1}}, nil))

	assert.Equal(t,
		"server/buildDone\t{\"type\":\"buildDone\"}\n"+
			"renderer/fixtureStateChange/delta\t{\"rendererId\":\"r1\",\"fixtureId\":{\"path\":\"a.js\",\"name\":null},\"changes\":{\"x\":1}}\n",
		out.String())
}
