package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/subutils"
	"github.com/tsarna/playground/pkg/playground/transform"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch [topic-patterns...]",
	Short: "Print routed dev server and renderer messages",
	Long: `Connect to the dev server and print every routed message as a line of
"<topic>\t<json>". Renderer responses are published on renderer/<type>,
server messages on server/<type>, and fixture state deltas on
renderer/fixtureStateChange/delta.

Topic patterns are MQTT-style. If none are given, everything ("#") is
printed.

Examples:
  playground watch
  playground watch "server/#"
  playground watch renderer/fixtureStateChange/delta
  playground watch --jq '.payload.rendererId // empty' "renderer/+"
  playground watch --diff renderer/fixtureStateChange`,
	RunE: runWatch,
}

var (
	watchJq        string
	watchDiff      bool
	watchQueueSize int
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchJq, "jq", "", "jq query applied to each message ($topic and $type are set)")
	watchCmd.Flags().BoolVar(&watchDiff, "diff", false, "print only what changed since the previous message on the same topic")
	watchCmd.Flags().IntVar(&watchQueueSize, "queue-size", subutils.DefaultQueueSize, "messages buffered for printing")
}

func runWatch(cmd *cobra.Command, args []string) error {
	topics := args
	if len(topics) == 0 {
		topics = []string{"#"}
	}

	return runSession(cmd, func(ctx context.Context, s *session) error {
		var subscriber bus.Subscriber = &printingSubscriber{out: cmd.OutOrStdout(), logger: s.logger}

		var transforms []transform.MessageTransformFunc
		if watchJq != "" {
			jq, err := transform.JqTransform(watchJq, s.logger)
			if err != nil {
				return err
			}
			transforms = append(transforms, jq)
		}
		if watchDiff {
			transforms = append(transforms, transform.DiffPrevious())
		}
		if len(transforms) > 0 {
			subscriber = subutils.NewTransformingSubscriber(subscriber, transforms...)
		}
		if verbose || debug {
			subscriber = subutils.NewNamedLoggingSubscriber(subscriber, s.logger, zap.DebugLevel, "watch")
		}

		async := subutils.NewAsyncQueueingSubscriber(subscriber, watchQueueSize).
			WithLogger(s.logger).
			Start()
		defer async.Close()
		defer s.bus.UnsubscribeAll(context.Background(), async)

		for _, topic := range topics {
			if err := s.bus.Subscribe(ctx, async, topic); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
			}
		}

		s.logger.Info("Watching messages... (Press Ctrl+C to exit)", zap.Strings("topics", topics))
		<-ctx.Done()
		s.logger.Info("Shutdown complete")
		return nil
	})
}

type printingSubscriber struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

func (p *printingSubscriber) OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error {
	jsonBytes, err := json.Marshal(message)
	if err != nil {
		p.logger.Warn("Failed to marshal message to JSON",
			zap.String("topic", topic),
			zap.Error(err),
		)
		jsonBytes = []byte(fmt.Sprintf("<error marshaling JSON: %v>", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintf(p.out, "%s\t%s\n", topic, jsonBytes)
	return err
}
