package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the entity registry",
}

var registryImportFlags struct {
	noEmbed bool
}

var registryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge entities from a YAML, JSON or XLSX file",
	Long: "Upserts every entity in the file and, unless --no-embed, stores a\n" +
		"vector for each business description for semantic resolution and\n" +
		"similarity scoring.",
	Args: cobra.ExactArgs(1),
	RunE: runRegistryImport,
}

func init() {
	registryImportCmd.Flags().BoolVar(&registryImportFlags.noEmbed, "no-embed", false, "Skip embedding descriptions")
	registryCmd.AddCommand(registryImportCmd)
}

func runRegistryImport(cmd *cobra.Command, args []string) error {
	entities, err := registry.LoadFile(args[0])
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.ImportRegistry(cmd.Context(), entities, !registryImportFlags.noEmbed)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported:  %d entities (registry now %d)\n", res.Imported, res.Total)
	if !registryImportFlags.noEmbed {
		fmt.Fprintf(out, "Embedded:  %d descriptions\n", res.Embedded)
		if res.Failed > 0 {
			fmt.Fprintf(out, "Failed:    %d descriptions (see log)\n", res.Failed)
		}
	}
	return nil
}
