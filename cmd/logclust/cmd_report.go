package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/matrix"
)

type reportOptions struct {
	result    string
	labels    string
	outputDir string
	format    string
	pcapIDs   bool
}

func newReportCmd(a *app) *cobra.Command {
	o := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Rewrite the reports of a saved clustering result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("format") {
				a.cfg.Output.SummaryFormat = o.format
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			return runReport(a, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.result, "result", "r", resultFile, "saved clustering result")
	flags.StringVarP(&o.labels, "labels", "l", "", "initial partition TSV file to name clusters against")
	flags.StringVarP(&o.outputDir, "output-dir", "o", ".", "directory for the reports")
	flags.StringVar(&o.format, "format", "", "run summary format (text or csv)")
	flags.BoolVar(&o.pcapIDs, "pcap-ids", false, "describe members as packet protocol and port in the details")

	return cmd
}

func runReport(a *app, o *reportOptions) error {
	data, err := os.ReadFile(o.result)
	if err != nil {
		return err
	}
	var res clustering.Result
	if err := res.Load(data); err != nil {
		return err
	}

	ids := res.IDs
	if ids == nil {
		return errors.New("result has no message ids")
	}
	initial, err := readLabels(o.labels, matrix.NewIndexMapFrom(ids))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return err
	}
	return writeReports(a, o.outputDir, &res, initial, describer(o.pcapIDs))
}
