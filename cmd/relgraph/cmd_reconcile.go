package main

import (
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph/internal/report"
	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/relation"
)

var reconcileFlags struct {
	batchSize  int
	dryRun     bool
	types      []string
	after      int64
	maxBatches int
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-evaluate stored edges against the current thresholds",
	Long: "Promotes, demotes or deletes stored edges so that every edge kind\n" +
		"agrees with the configured thresholds and the entity registry.\n" +
		"A second pass over unchanged data applies no changes.",
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	f := reconcileCmd.Flags()
	f.IntVar(&reconcileFlags.batchSize, "batch-size", 0, "Edges per batch (default from config)")
	f.BoolVar(&reconcileFlags.dryRun, "dry-run", false, "Count changes without writing them")
	f.StringSliceVar(&reconcileFlags.types, "type", nil, "Limit to relationship types, e.g. SUPPLIER or HAS_SUPPLIER")
	f.Int64Var(&reconcileFlags.after, "after", 0, "Resume after this edge id")
	f.IntVar(&reconcileFlags.maxBatches, "max-batches", 0, "Stop after this many batches")
}

func parseTypes(names []string) ([]relation.Type, error) {
	out := make([]relation.Type, 0, len(names))
	for _, n := range names {
		t, err := relation.ParseType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	types, err := parseTypes(reconcileFlags.types)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, err := eng.Reconcile(cmd.Context(), reconcile.Options{
		BatchSize:  reconcileFlags.batchSize,
		DryRun:     reconcileFlags.dryRun,
		Types:      types,
		StartAfter: reconcileFlags.after,
		MaxBatches: reconcileFlags.maxBatches,
	})
	if err != nil {
		return err
	}
	printTables(cmd, report.Reconcile(rep, mode))
	return nil
}
