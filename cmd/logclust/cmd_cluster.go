package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/logclust/pkg/clustering"
	_ "github.com/hed1ad/logclust/pkg/clustering/iclust"
	_ "github.com/hed1ad/logclust/pkg/clustering/kmeans"
	"github.com/hed1ad/logclust/pkg/io/csv"
	"github.com/hed1ad/logclust/pkg/io/pcap"
	"github.com/hed1ad/logclust/pkg/matrix"
	"github.com/hed1ad/logclust/pkg/report"
)

const (
	clustersFile = "clusters.tsv"
	detailsFile  = "details.txt"
	resultFile   = "result.gob"
)

type clusterOptions struct {
	matrix      string
	labels      string
	startLabels bool
	outputDir   string
	algorithm   string
	clusters    int
	runs        int
	seed        int64
	pcapIDs     bool
}

func newClusterCmd(a *app) *cobra.Command {
	o := &clusterOptions{}

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Partition a similarity matrix",
		Long: fmt.Sprintf(`Clusters the rows of a similarity matrix CSV and writes %s, %s,
the run summaries and %s to the output directory.`, clustersFile, detailsFile, resultFile),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("algorithm") {
				a.cfg.Algorithm = o.algorithm
			}
			if flags.Changed("clusters") {
				a.cfg.Clustering.Clusters = o.clusters
			}
			if flags.Changed("runs") {
				a.cfg.Clustering.Runs = o.runs
			}
			if flags.Changed("seed") {
				a.cfg.Clustering.Seed = o.seed
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runCluster(cmd, a, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.matrix, "matrix", "m", "similarity.csv", "similarity matrix CSV file")
	flags.StringVarP(&o.labels, "labels", "l", "", "initial partition TSV file")
	flags.BoolVar(&o.startLabels, "start-from-labels", true, "start every run from --labels instead of only naming against it")
	flags.StringVarP(&o.outputDir, "output-dir", "o", ".", "directory for the reports")
	flags.StringVarP(&o.algorithm, "algorithm", "a", "", fmt.Sprintf("clustering algorithm %v", clustering.Algorithms()))
	flags.IntVarP(&o.clusters, "clusters", "k", 0, "number of clusters")
	flags.IntVar(&o.runs, "runs", 0, "number of independent runs")
	flags.Int64Var(&o.seed, "seed", 0, "seed of the first run")
	flags.BoolVar(&o.pcapIDs, "pcap-ids", false, "describe members as packet protocol and port in the details")

	return cmd
}

func runCluster(cmd *cobra.Command, a *app, o *clusterOptions) error {
	f, err := os.Open(o.matrix)
	if err != nil {
		return err
	}
	m, index, err := csv.ReadMatrix(f)
	f.Close()
	if err != nil {
		return err
	}

	initial, err := readLabels(o.labels, index)
	if err != nil {
		return err
	}
	var start []int
	if initial != nil && o.startLabels {
		start = initial.Labels
	}

	c, err := clustering.New(a.cfg.Algorithm, a.cfg.Spec(start, a.logger))
	if err != nil {
		return err
	}
	res, err := c.Cluster(cmd.Context(), m)
	if err != nil {
		return err
	}
	res.IDs = index.IDs()

	data, err := res.Save()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(o.outputDir, resultFile), data, 0o644); err != nil {
		return err
	}

	return writeReports(a, o.outputDir, res, initial, describer(o.pcapIDs))
}

func readLabels(path string, index *matrix.IndexMap) (*csv.Partition, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.ReadLabels(f, index)
}

// describer returns the member labeler for the details report, if any.
func describer(pcapIDs bool) report.Describer {
	if pcapIDs {
		return pcap.DescribeID
	}
	return nil
}

func writeReports(a *app, dir string, res *clustering.Result, initial *csv.Partition, describe report.Describer) error {
	rep, err := report.Build(res, initial)
	if err != nil {
		return err
	}

	format := report.Format(a.cfg.Output.SummaryFormat)
	files := []struct {
		name  string
		write func(*os.File) error
	}{
		{clustersFile, func(f *os.File) error { return report.WriteClusters(f, rep) }},
		{detailsFile, func(f *os.File) error { return report.WriteDetails(f, rep, describe) }},
		{"runs." + string(format), func(f *os.File) error { return report.WriteRunSummaries(f, rep.Runs, format) }},
	}

	for _, file := range files {
		path := filepath.Join(dir, file.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := file.write(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	a.logger.Info("reports written",
		zap.String("dir", dir),
		zap.Int("clusters", len(rep.Clusters)),
		zap.Float64("score", rep.Score),
	)
	return nil
}
