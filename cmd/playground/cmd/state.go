package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/fixturestate"
	"go.uber.org/zap"
)

var setStateCmd = &cobra.Command{
	Use:   "set-state <key=json-value>...",
	Short: "Change the fixture state of the selected fixture",
	Long: `Wait for the primary renderer to report the state of its selected fixture,
apply the given changes to it and send the result back.

Values are JSON; anything that does not parse as JSON is taken as a
string. A null value removes the key. Nested keys are not split; pass an
object to change part of a nested value.

Examples:
  playground set-state theme=dark
  playground set-state 'props={"label":"Save","disabled":true}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSetState,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload every connected renderer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, func(ctx context.Context, s *session) error {
			ctx, cancel := context.WithTimeout(ctx, rendererTimeout)
			defer cancel()

			if err := s.waitForRenderer(ctx); err != nil {
				return err
			}
			for _, id := range s.nav.RendererIDs() {
				req, err := playground.ReloadRendererRequest(id)
				if err != nil {
					return err
				}
				s.router.PostRendererRequest(ctx, req)
			}
			return s.flush(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(setStateCmd)
	rootCmd.AddCommand(reloadCmd)
}

func parseStatePatch(args []string) (map[string]any, error) {
	patch := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		patch[key] = value
	}
	return patch, nil
}

func runSetState(cmd *cobra.Command, args []string) error {
	patch, err := parseStatePatch(args)
	if err != nil {
		return err
	}

	return runSession(cmd, func(ctx context.Context, s *session) error {
		ctx, cancel := context.WithTimeout(ctx, rendererTimeout)
		defer cancel()

		deltas := make(chan fixturestate.Delta, 1)
		watcher := bus.SubscriberFunc(func(ctx context.Context, topic string, message any, fields map[string]string) error {
			if delta, ok := message.(fixturestate.Delta); ok && delta.Initial {
				select {
				case deltas <- delta:
				default:
				}
			}
			return nil
		})
		if err := s.bus.Subscribe(ctx, watcher, fixturestate.DeltaTopic); err != nil {
			return err
		}

		if err := s.waitForRenderer(ctx); err != nil {
			return err
		}
		// The connection may have dropped since the renderer announced itself.
		primary, err := s.nav.PrimaryRendererID()
		if err != nil {
			return err
		}

		// Nothing can be patched before the first report.
		for {
			select {
			case delta := <-deltas:
				if delta.RendererID != primary {
					continue
				}
				if err := s.tracker.SetFixtureState(ctx, s.router, primary, patch); err != nil {
					return err
				}
				s.logger.Info("Fixture state sent",
					zap.String("renderer_id", primary),
					zap.Stringer("fixture", delta.FixtureID),
				)
				return s.flush(ctx)
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", fixturestate.ErrNoState, primary)
			}
		}
	})
}
