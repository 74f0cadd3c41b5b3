package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/servimap/servimap/internal/catalog"
)

func newCatalogCmd() *cobra.Command {
	var (
		path   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print the service category catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.LoadOrDefault(path)
			if err != nil {
				return err
			}
			doc := map[string][]catalog.Category{"categories": cat.List()}
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(doc); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "catalog YAML file (defaults to the built-in catalog)")
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}
