package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/internal/report"
)

var extractFlags struct {
	company string
	jobs    string
	force   bool
}

var extractCmd = &cobra.Command{
	Use:   "extract [filing...]",
	Short: "Extract relationships from filings into the graph",
	Long: "Parses each filing, extracts relationship mentions, resolves and\n" +
		"decides them, and stores the accepted edges. Filings whose content\n" +
		"is unchanged since the last successful run are skipped unless --force.",
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.company, "company", "", "CIK of the company that filed the documents")
	f.StringVar(&extractFlags.jobs, "jobs", "", "YAML or JSON list of {path, company_id} jobs")
	f.BoolVar(&extractFlags.force, "force", false, "Reprocess filings even when unchanged")
	f.Int("concurrency", 0, "Filings processed in parallel (overrides config)")
	_ = v.BindPFlag("concurrency", f.Lookup("concurrency"))
}

// filingJobs builds the batch from --jobs or --company plus arguments.
func filingJobs(company, jobsPath string, paths []string) ([]relgraph.FilingJob, error) {
	if jobsPath != "" {
		if company != "" || len(paths) > 0 {
			return nil, errors.New("--jobs cannot be combined with --company or filing arguments")
		}
		data, err := os.ReadFile(jobsPath)
		if err != nil {
			return nil, fmt.Errorf("reading jobs: %w", err)
		}
		var jobs []relgraph.FilingJob
		if err := yaml.Unmarshal(data, &jobs); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", jobsPath, err)
		}
		for i, j := range jobs {
			if j.Path == "" || j.CompanyID == "" {
				return nil, fmt.Errorf("job %d: path and company_id are required", i+1)
			}
		}
		return jobs, nil
	}

	if company == "" {
		return nil, errors.New("--company is required")
	}
	if len(paths) == 0 {
		return nil, errors.New("no filings given")
	}
	jobs := make([]relgraph.FilingJob, len(paths))
	for i, p := range paths {
		jobs[i] = relgraph.FilingJob{Path: p, CompanyID: company}
	}
	return jobs, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	jobs, err := filingJobs(extractFlags.company, extractFlags.jobs, args)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	var opts []relgraph.ProcessOption
	if extractFlags.force {
		opts = append(opts, relgraph.WithForce())
	}
	sum, err := eng.ProcessFilings(cmd.Context(), jobs, opts...)
	if err != nil {
		return err
	}

	printTables(cmd,
		report.Summary(sum, mode),
		report.Tiers(sum.Counts.Tiers, mode),
		report.Decisions(eng.Metrics(), mode),
		report.Failures(sum, mode),
	)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d filings failed", sum.Failed, sum.Filings)
	}
	return nil
}
