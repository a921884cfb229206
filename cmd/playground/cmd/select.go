package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"go.uber.org/zap"
)

var selectCmd = &cobra.Command{
	Use:   "select <fixture-path | ?fixtureId=...> [fixture-name]",
	Short: "Select a fixture on every connected renderer",
	Long: `Select a fixture on every connected renderer and print the fixture state
the primary renderer reports back.

The fixture is given either as a path plus an optional fixture name, or as
a playground query string as printed by "playground tree --urls".

Examples:
  playground select src/components/Button.fixture.js
  playground select src/components/Card.js small
  playground select '?fixtureId={"path":"Intro.js","name":null}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSelect,
}

var unselectCmd = &cobra.Command{
	Use:   "unselect",
	Short: "Clear the fixture selection on every connected renderer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, func(ctx context.Context, s *session) error {
			ctx, cancel := context.WithTimeout(ctx, rendererTimeout)
			defer cancel()

			if err := s.waitForRenderer(ctx); err != nil {
				return err
			}
			if err := s.nav.UnselectFixture(ctx, s.router); err != nil {
				return err
			}
			return s.flush(ctx)
		})
	},
}

var rendererTimeout time.Duration

func init() {
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(unselectCmd)

	rootCmd.PersistentFlags().DurationVar(&rendererTimeout, "timeout", 10*time.Second, "how long to wait for renderers")
}

func parseFixtureArgs(args []string) (playground.FixtureID, error) {
	if strings.Contains(args[0], "fixtureId=") {
		if len(args) > 1 {
			return playground.FixtureID{}, fmt.Errorf("a fixture name cannot be combined with a query string")
		}
		id, ok := playground.ParseFixtureURL(args[0])
		if !ok {
			return playground.FixtureID{}, fmt.Errorf("invalid fixture query string: %s", args[0])
		}
		return id, nil
	}

	if len(args) == 2 {
		return playground.NewFixtureID(args[0], args[1]), nil
	}
	return playground.DefaultFixtureID(args[0]), nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	id, err := parseFixtureArgs(args)
	if err != nil {
		return err
	}

	return runSession(cmd, func(ctx context.Context, s *session) error {
		ctx, cancel := context.WithTimeout(ctx, rendererTimeout)
		defer cancel()

		if err := s.waitForRenderer(ctx); err != nil {
			return err
		}

		states := make(chan playground.FixtureStateChange, 1)
		watcher := bus.SubscriberFunc(func(ctx context.Context, topic string, message any, fields map[string]string) error {
			msg, ok := message.(playground.RendererResponse)
			if !ok {
				return nil
			}
			decoded, err := msg.Decode()
			if err != nil {
				return err
			}
			if change := decoded.(playground.FixtureStateChange); change.FixtureID.Equal(id) {
				select {
				case states <- change:
				default:
				}
			}
			return nil
		})
		if err := s.bus.Subscribe(ctx, watcher, bus.RendererTopic(playground.ResponseFixtureStateChange)); err != nil {
			return err
		}

		if err := s.nav.SelectFixture(ctx, s.router, id); err != nil {
			return err
		}
		s.logger.Info("Fixture selected", zap.Stringer("fixture", id), zap.Strings("renderers", s.nav.RendererIDs()))

		select {
		case change := <-states:
			out, err := json.MarshalIndent(change, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		case <-ctx.Done():
			s.logger.Warn("No fixture state reported", zap.Stringer("fixture", id))
			return nil
		}
	})
}
