package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/tuner"
)

func newCompareCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [NET.STA ...]",
		Short: "Compare the tuned and reference configurations of tuned stations",
		Long: "Compare reads the best rows of results_<phase>.csv, re-curates the cached " +
			"waveforms and writes the comparison report against reference_picker_config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stations, err := o.load(args)
			if err != nil {
				return err
			}
			if cfg.GetReferencePickerConfig() == "" {
				return fmt.Errorf("reference_picker_config is not set")
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
					return err
				}
				rc := a.rc.WithStation(st)
				var tuned []tuner.PhaseResult
				// S rows are tuned on top of the best P row.
				base, _, _ := tuner.BestResult(a.fs, rc.ResultsPath(picks.PhaseP), st.NetSta())
				for _, ph := range cfg.GetPhases() {
					best, _, err := tuner.BestResult(a.fs, rc.ResultsPath(ph), st.NetSta())
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", st.NetSta(), ph, err)
						continue
					}
					full, err := params.Derive(base.Merge(best))
					if err != nil {
						return err
					}
					_, entries, _, err := a.tuner.Curate(ctx, rc, st, ph)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", st.NetSta(), ph, err)
						continue
					}
					tuned = append(tuned, tuner.PhaseResult{Station: st, Phase: ph, Config: full, Entries: entries})
				}
				if len(tuned) == 0 {
					continue
				}
				path, err := a.tuner.Compare(ctx, rc, st, tuned)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report %s\n", path)
			}
			return nil
		},
	}
}
