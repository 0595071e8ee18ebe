package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCurateCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "curate [NET.STA ...]",
		Short: "Fetch and screen waveforms without tuning",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stations, err := o.load(args)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			for _, ref := range stations {
				st, err := a.source.Station(ctx, ref)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", ref.NetSta(), err)
					continue
				}
				rc := a.rc.WithStation(st)
				for _, ph := range cfg.GetPhases() {
					path, entries, stats, err := a.tuner.Curate(ctx, rc, st, ph)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", st.NetSta(), ph, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d waveforms in %s (%s)\n", st.NetSta(), ph, len(entries), path, stats)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		},
	}
}
