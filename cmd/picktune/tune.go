package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/picktune/internal/tuner"
)

func newTuneCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tune [NET.STA ...]",
		Short: "Tune P then S picker parameters for every station",
		Long: "Tune gathers manual picks, curates their waveforms, searches picker " +
			"configurations and appends the best one per station to results_<phase>.csv. " +
			"Stations given as arguments replace those of the configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stations, err := o.load(args)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			sum := a.tuner.Run(ctx, stations)
			printSummary(cmd.OutOrStdout(), sum)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		},
	}
}

func printSummary(out io.Writer, sum tuner.Summary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s\n", sum.RunID)
	fmt.Fprintln(w, "STATION\tPHASE\tSCORE\tTRIALS\tWAVEFORMS\t")
	for _, r := range sum.Tuned {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%d\t%d\t\n", r.Station.NetSta(), r.Phase, r.Best.Score, r.Trials, len(r.Entries))
	}
	for _, nt := range sum.NotTuned {
		fmt.Fprintf(w, "%s\t%s\tnot tuned: %s\t\t\t\n", nt.Station, nt.Phase, nt.Reason)
	}
	for _, path := range sum.Reports {
		fmt.Fprintf(w, "report %s\n", path)
	}
	w.Flush()
}
