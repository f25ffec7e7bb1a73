package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a catalog document",
	Long:  `Load a catalog document and check its types, fields and links for consistency.`,
	Example: `  # Validate a specific catalog
  strata validate --catalog config/catalog.yaml

  # Validate using config file settings
  strata validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, path, err := loadCatalog()
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}

		types := cat.Types()
		fmt.Printf("Catalog %s is valid. Found %d types:\n", path, len(types))
		for _, td := range types {
			var traits []string
			if td.ConfigTable {
				traits = append(traits, "config")
			}
			if td.Delegation != nil {
				traits = append(traits, "delegated via "+td.Delegation.Link)
			}
			fmt.Printf("  - %s (id %d, table %s, %d fields", td.Name, td.ID, td.Table, len(td.Fields))
			for _, t := range traits {
				fmt.Printf(", %s", t)
			}
			fmt.Println(")")
		}
		if links := cat.Links(); len(links) > 0 {
			fmt.Printf("\n%d links:\n", len(links))
			for _, lt := range links {
				fmt.Printf("  - %s (%s)\n", lt.Name, lt.Table)
			}
		}
		return nil
	},
}
