package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/paths"
)

var (
	pathsBidirectional  bool
	pathsPrefer         string
	pathsSourceEndpoint string
	pathsTargetEndpoint string
)

var pathsCmd = &cobra.Command{
	Use:   "paths SOURCE TARGET",
	Short: "Resolve and print candidate translation paths for a vocabulary pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		found, err := app.finder.FindPaths(cmd.Context(), paths.Query{
			Source:         args[0],
			Target:         args[1],
			Bidirectional:  pathsBidirectional,
			Preferred:      paths.Direction(pathsPrefer),
			SourceEndpoint: pathsSourceEndpoint,
			TargetEndpoint: pathsTargetEndpoint,
		})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Printf("No paths from %s to %s.\n", args[0], args[1])
			return nil
		}

		for i, p := range found {
			fmt.Printf("%d. %s  [%s, priority %d, %s -> %s]\n",
				i+1, p.Path.Name, p.Direction(), p.EffectivePriority(), p.Source(), p.Target())
			for j, s := range p.Steps() {
				fmt.Printf("     step %d: %s (%s -> %s)\n", j+1, s.Resource.Name, s.Resource.Input, s.Resource.Output)
			}
		}
		return nil
	},
}

func init() {
	pathsCmd.Flags().BoolVar(&pathsBidirectional, "bidirectional", false, "Also consider reverse-discoverable paths")
	pathsCmd.Flags().StringVar(&pathsPrefer, "prefer", string(paths.Forward), "Preferred direction on priority ties (forward|reverse)")
	pathsCmd.Flags().StringVar(&pathsSourceEndpoint, "source-endpoint", "", "Restrict to paths bound to this source endpoint")
	pathsCmd.Flags().StringVar(&pathsTargetEndpoint, "target-endpoint", "", "Restrict to paths bound to this target endpoint")
	rootCmd.AddCommand(pathsCmd)
}
