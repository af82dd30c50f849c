package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph/eval"
	"github.com/brunobiangulo/relgraph/internal/report"
)

var evalFlags struct {
	sample      int
	concurrency int
	output      string
}

var evalCmd = &cobra.Command{
	Use:   "eval <dataset>",
	Short: "Measure precision and recall against reviewed mentions",
	Long: "Runs every reviewed mention in a CSV, YAML or JSON dataset through\n" +
		"resolution and the decision tiers, and compares the outcome with the\n" +
		"reviewer label. Nothing is written to the graph.",
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	f := evalCmd.Flags()
	f.IntVar(&evalFlags.sample, "sample", 0, "Use at most N correct and N incorrect cases")
	f.IntVar(&evalFlags.concurrency, "concurrency", 1, "Cases judged in parallel")
	f.StringVarP(&evalFlags.output, "output", "o", "", "Write the full JSON report to this file")
}

func runEval(cmd *cobra.Command, args []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	ds, err := eval.LoadDataset(args[0])
	if err != nil {
		return err
	}
	ds = ds.Sample(evalFlags.sample)
	if len(ds.Cases) == 0 {
		return fmt.Errorf("%s: no labelled cases", args[0])
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, err := eval.NewEvaluator(eng, evalFlags.concurrency).Run(cmd.Context(), ds)
	if err != nil {
		return err
	}
	if evalFlags.output != "" {
		if err := writeJSONFile(evalFlags.output, rep); err != nil {
			return err
		}
	}
	printTables(cmd, report.Eval(rep, mode), report.Decisions(eng.Metrics(), mode))
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
