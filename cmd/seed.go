package cmd

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/api"
)

// HCL schema for seed files, e.g.
//
//	resource "unichem" {
//	  client = "table"
//	  input  = "GENE_SYMBOL"
//	  output = "UNIPROT_ID"
//	}
//
//	path "gene_to_uniprot_direct" {
//	  priority = 10
//	  steps    = ["unichem"]
//	}
//
//	relationship {
//	  source_endpoint = "ukbb_protein"
//	  target_endpoint = "hpa_osp"
//	  path            = "gene_to_uniprot_direct"
//	}
type seedFile struct {
	Resources []seedResource `hcl:"resource,block"`
	Paths     []seedPath     `hcl:"path,block"`
	Relations []seedRelation `hcl:"relationship,block"`
}

type seedResource struct {
	Name   string `hcl:"name,label"`
	Client string `hcl:"client"`
	Input  string `hcl:"input"`
	Output string `hcl:"output"`
}

type seedPath struct {
	Name     string   `hcl:"name,label"`
	Priority int      `hcl:"priority,optional"`
	Source   string   `hcl:"source,optional"`
	Target   string   `hcl:"target,optional"`
	Inactive bool     `hcl:"inactive,optional"`
	Steps    []string `hcl:"steps"`
}

type seedRelation struct {
	SourceEndpoint string `hcl:"source_endpoint"`
	TargetEndpoint string `hcl:"target_endpoint"`
	Path           string `hcl:"path"`
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load resources, paths and endpoint relationships into the metadata database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var file seedFile
		if err := hclsimple.DecodeFile(args[0], nil, &file); err != nil {
			return fmt.Errorf("parse seed file %s: %w", args[0], err)
		}

		app, cleanup, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		resourceIDs := make(map[string]int64, len(file.Resources))
		for _, r := range file.Resources {
			id, err := app.repo.AddResource(ctx, r.Name, r.Client, r.Input, r.Output)
			if err != nil {
				return err
			}
			resourceIDs[r.Name] = id
		}

		pathIDs := make(map[string]int64, len(file.Paths))
		for _, p := range file.Paths {
			steps := make([]api.Step, 0, len(p.Steps))
			for i, resourceName := range p.Steps {
				id, ok := resourceIDs[resourceName]
				if !ok {
					return fmt.Errorf("path %s: unknown resource %q", p.Name, resourceName)
				}
				steps = append(steps, api.Step{Order: i + 1, Resource: api.Resource{ID: id}})
			}
			priority := p.Priority
			if priority == 0 {
				priority = 10
			}
			id, err := app.repo.AddPath(ctx, &api.Path{
				Name:     p.Name,
				Priority: priority,
				Source:   p.Source,
				Target:   p.Target,
				Active:   !p.Inactive,
				Steps:    steps,
			})
			if err != nil {
				return err
			}
			pathIDs[p.Name] = id
		}

		for _, rel := range file.Relations {
			id, ok := pathIDs[rel.Path]
			if !ok {
				return fmt.Errorf("relationship %s/%s: unknown path %q", rel.SourceEndpoint, rel.TargetEndpoint, rel.Path)
			}
			if err := app.repo.RelateEndpoints(ctx, rel.SourceEndpoint, rel.TargetEndpoint, id); err != nil {
				return err
			}
		}

		fmt.Printf("Seeded %d resources, %d paths, %d relationships into %s.\n",
			len(file.Resources), len(file.Paths), len(file.Relations), cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
