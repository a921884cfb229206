package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree [directories...]",
	Short: "Print the fixture tree of the primary renderer",
	Long: `Wait for a renderer to connect and print its fixtures as a tree.

Only the root is expanded unless directories are given or --expand-all is
set. Directories are given as slash separated paths as shown in the tree,
without the fixtures directory.

Examples:
  playground tree --expand-all
  playground tree src src/components --urls`,
	RunE: runTree,
}

var (
	treeExpandAll bool
	treeURLs      bool
	treeSettle    time.Duration
)

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().BoolVar(&treeExpandAll, "expand-all", false, "expand every directory")
	treeCmd.Flags().BoolVar(&treeURLs, "urls", false, "print the playground query string of each fixture")
	treeCmd.Flags().DurationVar(&treeSettle, "settle", 500*time.Millisecond, "time to wait for other renderers after the first one")
}

func runTree(cmd *cobra.Command, args []string) error {
	return runSession(cmd, func(ctx context.Context, s *session) error {
		waitCtx, cancel := context.WithTimeout(ctx, rendererTimeout)
		defer cancel()
		if err := s.waitForRenderer(waitCtx); err != nil {
			return err
		}

		select {
		case <-time.After(treeSettle):
		case <-ctx.Done():
			return ctx.Err()
		}

		for _, dir := range args {
			s.nav.ToggleExpansion(dir, true)
		}
		if treeExpandAll {
			s.nav.ExpandAll()
		}

		return s.nav.Render(cmd.OutOrStdout(), treeURLs)
	})
}
