package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hed1ad/logclust/pkg/clustering"
)

// Format selects the layout of the run summaries.
type Format string

const (
	// Text is a fixed-column table.
	Text Format = "text"
	// CSV is comma-separated with a header row.
	CSV Format = "csv"
)

// WriteClusters writes one tab-separated line per cluster: the name, then
// the member message ids in ascending order. The output can be read back
// as an initial partition.
func WriteClusters(w io.Writer, rep *Report) error {
	bw := bufio.NewWriter(w)
	for _, cl := range rep.Clusters {
		bw.WriteString(cl.Name)
		for _, id := range cl.Members {
			bw.WriteByte('\t')
			bw.WriteString(strconv.Itoa(id))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Describer turns a message id into a readable label.
type Describer func(id int) string

// WriteDetails writes a free-text description of every cluster and where
// it came from. When describe is not nil every member is listed with its
// label.
func WriteDetails(w io.Writer, rep *Report, describe Describer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "clusters: %d\n", len(rep.Clusters))
	fmt.Fprintf(bw, "score: %.6f (run %d)\n", rep.Score, rep.BestRun)

	for _, cl := range rep.Clusters {
		fmt.Fprintf(bw, "\n%s: %s, %d members, score %.6f\n", cl.Name, cl.Event, len(cl.Members), cl.Score)
		if len(cl.Sources) > 0 {
			fmt.Fprintf(bw, "  from: %s\n", strings.Join(cl.Sources, ", "))
		}
		if describe != nil {
			for _, id := range cl.Members {
				fmt.Fprintf(bw, "  %d %s\n", id, describe(id))
			}
		}
	}
	return bw.Flush()
}

var summaryHeader = []string{"run", "seed", "score", "trials", "idle_trials", "elapsed_ms", "converged"}

// WriteRunSummaries writes one line per run.
func WriteRunSummaries(w io.Writer, runs []clustering.RunSummary, format Format) error {
	switch format {
	case CSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(summaryHeader); err != nil {
			return err
		}
		for _, r := range runs {
			record := []string{
				strconv.Itoa(r.Run),
				strconv.FormatInt(r.Seed, 10),
				strconv.FormatFloat(r.Score, 'g', -1, 64),
				strconv.Itoa(r.Trials),
				strconv.Itoa(r.IdleTrials),
				strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
				strconv.FormatBool(r.Converged),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case Text:
		bw := bufio.NewWriter(w)
		const row = "%5v %12v %12v %10v %12v %12v %10v\n"
		fmt.Fprintf(bw, row, toAny(summaryHeader)...)
		for _, r := range runs {
			fmt.Fprintf(bw, row,
				r.Run,
				r.Seed,
				strconv.FormatFloat(r.Score, 'f', 6, 64),
				r.Trials,
				r.IdleTrials,
				r.Elapsed.Milliseconds(),
				r.Converged,
			)
		}
		return bw.Flush()

	default:
		return fmt.Errorf("unknown summary format %q", format)
	}
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
