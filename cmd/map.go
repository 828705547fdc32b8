package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/mapping"
	"github.com/arpanauts/biomapper/internal/paths"
)

var (
	mapBidirectional  bool
	mapPrefer         string
	mapSourceEndpoint string
	mapTargetEndpoint string
	mapExecutionID    string
	mapTables         []string
)

var mapCmd = &cobra.Command{
	Use:   "map SOURCE TARGET ID...",
	Short: "Translate identifiers from one vocabulary to another",
	Long: `Runs a full mapping over the given identifiers: composites are split,
the best path per vocabulary pair is resolved, and translation executes in
checkpointed batches. Results print as JSON keyed by input identifier.

Lookup tables for the built-in "table" client load from JSON files:

  biomapper map GENE_SYMBOL UNIPROT_ID TP53 --table unichem=unichem.json`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		for _, spec := range mapTables {
			name, file, ok := strings.Cut(spec, "=")
			if !ok {
				return fmt.Errorf("invalid --table %q, want RESOURCE=FILE", spec)
			}
			table, err := loadTable(file)
			if err != nil {
				return err
			}
			app.tables.Load(name, table)
		}

		results, err := app.service.MapBatch(cmd.Context(), mapping.Request{
			Source:         args[0],
			Target:         args[1],
			Identifiers:    args[2:],
			Bidirectional:  mapBidirectional,
			Preferred:      paths.Direction(mapPrefer),
			SourceEndpoint: mapSourceEndpoint,
			TargetEndpoint: mapTargetEndpoint,
			ExecutionID:    mapExecutionID,
		})
		if err != nil {
			return err
		}

		fmt.Println(oj.JSON(results, &oj.Options{Indent: 2, Sort: true}))
		return nil
	},
}

// loadTable reads a JSON lookup table of the form {"ID": ["VALUE", ...]}.
func loadTable(file string) (map[string][]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read lookup table %s: %w", file, err)
	}
	parsed, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse lookup table %s: %w", file, err)
	}
	raw, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("lookup table %s: want a JSON object", file)
	}
	table := make(map[string][]string, len(raw))
	for id, v := range raw {
		values, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("lookup table %s: entry %q is not an array", file, id)
		}
		for _, val := range values {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("lookup table %s: entry %q holds a non-string value", file, id)
			}
			table[id] = append(table[id], s)
		}
	}
	return table, nil
}

func init() {
	mapCmd.Flags().BoolVar(&mapBidirectional, "bidirectional", false, "Also consider reverse-discoverable paths")
	mapCmd.Flags().StringVar(&mapPrefer, "prefer", string(paths.Forward), "Preferred direction on priority ties (forward|reverse)")
	mapCmd.Flags().StringVar(&mapSourceEndpoint, "source-endpoint", "", "Restrict to paths bound to this source endpoint")
	mapCmd.Flags().StringVar(&mapTargetEndpoint, "target-endpoint", "", "Restrict to paths bound to this target endpoint")
	mapCmd.Flags().StringVar(&mapExecutionID, "execution-id", "", "Pin the execution id so a rerun resumes its checkpoint")
	mapCmd.Flags().StringArrayVar(&mapTables, "table", nil, "Load a RESOURCE=FILE JSON lookup table for the table client (repeatable)")
	rootCmd.AddCommand(mapCmd)
}
