package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	logio "github.com/hed1ad/logclust/pkg/io"
	"github.com/hed1ad/logclust/pkg/io/csv"
	"github.com/hed1ad/logclust/pkg/io/pcap"
)

type miOptions struct {
	input    string
	pcapFile string
	iface    string
	duration time.Duration
	output   string
	smoothed bool
}

func newMICmd(a *app) *cobra.Command {
	o := &miOptions{}

	cmd := &cobra.Command{
		Use:   "mi",
		Short: "Estimate signed mutual information between message ids",
		Long: `Reads intervals from a CSV file (segment,interval,message_id[,count[,positions]]),
a PCAP file or a live interface and writes the similarity matrix as CSV.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("smoothed") {
				a.cfg.MutualInfo.Smoothed = o.smoothed
			}
			return runMI(cmd, a, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.input, "input", "i", "", "intervals CSV file")
	flags.StringVar(&o.pcapFile, "pcap", "", "PCAP file; packets are bucketed by mutual_info.window")
	flags.StringVar(&o.iface, "interface", "", "live capture interface")
	flags.DurationVar(&o.duration, "duration", 10*time.Second, "live capture duration")
	flags.StringVarP(&o.output, "output", "o", "similarity.csv", "similarity matrix CSV file")
	flags.BoolVar(&o.smoothed, "smoothed", false, "use the smoothed estimator")

	return cmd
}

func (o *miOptions) open(window time.Duration) (logio.IntervalReader, error) {
	switch {
	case o.input != "":
		return csv.NewReader(o.input)
	case o.pcapFile != "":
		return pcap.NewFileReader(o.pcapFile, window)
	case o.iface != "":
		return pcap.NewLiveReader(o.iface, 65535, false, time.Second, window)
	default:
		return nil, errors.New("one of --input, --pcap or --interface is required")
	}
}

// collect reads every interval. A live capture is cut after the configured
// duration.
func (o *miOptions) collect(ctx context.Context, r logio.IntervalReader) (logio.Intervals, error) {
	if o.iface == "" {
		read, err := r.Read()
		return logio.Intervals(read), err
	}

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	in, err := r.Stream(ctx)
	if err != nil {
		return nil, err
	}
	var intervals logio.Intervals
	for iv := range in {
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

func runMI(cmd *cobra.Command, a *app, o *miOptions) error {
	r, err := o.open(a.cfg.MutualInfo.Window)
	if err != nil {
		return err
	}
	defer r.Close()

	intervals, err := o.collect(cmd.Context(), r)
	if err != nil {
		return fmt.Errorf("read intervals: %w", err)
	}

	e := a.cfg.Estimator(intervals.IDs(), a.logger)
	sim, err := logio.Estimate(cmd.Context(), intervals, e)
	if err != nil {
		return err
	}

	f, err := os.Create(o.output)
	if err != nil {
		return err
	}
	if err := csv.WriteMatrix(f, sim, sim.Index.IDs()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	a.logger.Info("similarity matrix written",
		zap.String("path", o.output),
		zap.Int("intervals", len(intervals)),
		zap.Int("ids", sim.Rows()),
		zap.Bool("smoothed", a.cfg.MutualInfo.Smoothed),
	)
	return nil
}
