// Package cli implements patternctl, an offline tool for learning and
// inspecting reply patterns.
package cli

import (
	"fmt"
	"slices"

	"pattern_worker/pkg/logger"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "patternctl",
		Short: "Learn and inspect email reply patterns",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := logger.LevelWarn
			if opts.Verbose {
				level = logger.LevelDebug
			}
			logger.Init(logger.Config{Level: level, Service: "patternctl"})
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewLearnCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewSimilarityCommand(opts))

	return cmd
}
