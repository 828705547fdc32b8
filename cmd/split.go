package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split VOCABULARY ID",
	Short: "Show how a composite identifier decomposes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		vocab, id := args[0], args[1]
		isComposite, components, pattern := app.resolver.Split(id, vocab)
		if !isComposite {
			fmt.Printf("%s is not composite under %s.\n", id, vocab)
			return nil
		}

		fmt.Printf("%s splits into %d components (%s, aggregation %s):\n",
			id, len(components), app.resolver.ComponentVocabulary(pattern), pattern.Aggregation)
		for _, c := range components {
			fmt.Printf("  - %s\n", c)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(splitCmd)
}
