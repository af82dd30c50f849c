package main

import (
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph/internal/report"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/store"
)

var edgesFlags struct {
	company string
	kinds   []string
	list    bool
	limit   int
	after   int64
}

var edgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "Show stored edges",
	Long:  "Prints edge totals by kind, or with --list the edges themselves.",
	Args:  cobra.NoArgs,
	RunE:  runEdges,
}

func init() {
	f := edgesCmd.Flags()
	f.StringVar(&edgesFlags.company, "company", "", "Only edges from this CIK")
	f.StringSliceVar(&edgesFlags.kinds, "kind", nil, "Only these kinds, e.g. HAS_SUPPLIER")
	f.BoolVar(&edgesFlags.list, "list", false, "List edges instead of counting them")
	f.IntVar(&edgesFlags.limit, "limit", 50, "Maximum edges to list")
	f.Int64Var(&edgesFlags.after, "after", 0, "List edges after this id")
}

func parseKinds(names []string) ([]relation.Label, error) {
	out := make([]relation.Label, 0, len(names))
	for _, n := range names {
		l := relation.Label(n)
		if _, _, err := relation.ParseLabel(l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func runEdges(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	kinds, err := parseKinds(edgesFlags.kinds)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()
	if !edgesFlags.list {
		counts, err := eng.Store().CountEdgesByKind(ctx)
		if err != nil {
			return err
		}
		printTables(cmd, report.EdgeCounts(counts, mode))
		return nil
	}

	edges, err := eng.Store().ScanEdges(ctx, store.EdgeQuery{
		After:    edgesFlags.after,
		Kinds:    kinds,
		SourceID: edgesFlags.company,
		Limit:    edgesFlags.limit,
	})
	if err != nil {
		return err
	}
	printTables(cmd, report.Edges(edges, mode))
	return nil
}
