package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
)

type evaluateOptions struct {
	Phase  string
	Params string
}

func newEvaluateCommand(o *rootOptions) *cobra.Command {
	eo := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate NET.STA",
		Short: "Score one parameter set on a station's curated waveforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := picks.ParsePhase(eo.Phase)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(eo.Params)
			if err != nil {
				return fmt.Errorf("read parameters: %w", err)
			}
			var raw map[string]json.Number
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse parameters: %w", err)
			}
			cfg := params.Configuration{}
			for k, v := range raw {
				cfg[k] = params.ParseValue(v.String())
			}

			runCfg, stations, err := o.load(args)
			if err != nil {
				return err
			}
			a, err := newApp(runCfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			st, err := a.source.Station(ctx, stations[0])
			if err != nil {
				return err
			}
			rc := a.rc.WithStation(st)
			_, entries, _, err := a.tuner.Curate(ctx, rc, st, phase)
			if err != nil {
				return err
			}
			ev, err := a.tuner.Engine(rc, st, phase).Evaluate(ctx, cfg, entries)
			if err != nil {
				return err
			}
			m := ev.Counts.Metrics()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: score=%.4f f1=%.4f tpr=%.4f fpr=%.4f tp=%d fp=%d fn=%d\n",
				st.NetSta(), phase, ev.Score, m.F1, m.TPR, m.FPRProxy, ev.Counts.TP, ev.Counts.FP, ev.Counts.FN)
			return nil
		},
	}
	cmd.Flags().StringVar(&eo.Phase, "phase", "P", "Phase to evaluate: P or S.")
	cmd.Flags().StringVar(&eo.Params, "params", "params.json", "JSON object of parameter values.")
	return cmd
}
