package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/internal/report"
	"github.com/brunobiangulo/relgraph/relation"
)

var judgeFlags struct {
	company string
	mention string
	typ     string
	target  string
}

var judgeCmd = &cobra.Command{
	Use:   "judge <sentence>",
	Short: "Decide a single mention without storing it",
	Example: `  relgraph judge --company 320193 --type SUPPLIER --mention TSMC \
    "We rely on TSMC for substantially all of our wafers."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJudge,
}

func init() {
	f := judgeCmd.Flags()
	f.StringVar(&judgeFlags.company, "company", "", "CIK of the filing company (required)")
	f.StringVar(&judgeFlags.mention, "mention", "", "Mention text as it appears in the sentence (required)")
	f.StringVar(&judgeFlags.typ, "type", "", "Relationship type (required)")
	f.StringVar(&judgeFlags.target, "target", "", "Target CIK; skips resolution")
	_ = judgeCmd.MarkFlagRequired("company")
	_ = judgeCmd.MarkFlagRequired("mention")
	_ = judgeCmd.MarkFlagRequired("type")
}

func runJudge(cmd *cobra.Command, args []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	typ, err := relation.ParseType(judgeFlags.typ)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	j, err := eng.Judge(cmd.Context(), relgraph.Mention{
		CompanyID: judgeFlags.company,
		Sentence:  strings.Join(args, " "),
		Text:      judgeFlags.mention,
		Type:      typ,
		TargetID:  judgeFlags.target,
	})
	if err != nil {
		return err
	}
	printTables(cmd, report.Judgement(j, mode))
	return nil
}
