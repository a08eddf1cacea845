package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/san-kum/progsim/internal/automation"
	"github.com/san-kum/progsim/internal/config"
	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/experiment"
	"github.com/san-kum/progsim/internal/metrics"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

// runFlags are shared by run, ensemble and sweep.
type runFlags struct {
	configFile       string
	preset           string
	mode             string
	duration         float64
	dt               float64
	saveFreq         float64
	horizon          float64
	maxSteps         int
	seed             uint64
	integrator       string
	thresholds       []string
	processNoise     float64
	measurementNoise float64
	noiseDist        string
	set              []string
	print            bool
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "config file path (yaml)")
	fl.StringVar(&f.preset, "preset", "", "use preset configuration")
	fl.StringVar(&f.mode, "mode", config.ModeThreshold, "threshold or time")
	fl.Float64Var(&f.duration, "time", config.DefaultTime, "time limit in time mode")
	fl.Float64Var(&f.dt, "dt", sim.DefaultDt, "timestep")
	fl.Float64Var(&f.saveFreq, "save-freq", sim.DefaultSaveFreq, "save interval")
	fl.Float64Var(&f.horizon, "horizon", 0, "threshold run horizon (0 for none)")
	fl.IntVar(&f.maxSteps, "max-steps", 0, "step limit (0 for none)")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed (drawn when unset)")
	fl.StringVar(&f.integrator, "integrator", "", "integrator for derivative models")
	fl.StringSliceVar(&f.thresholds, "threshold", nil, "events that stop the run (all when empty)")
	fl.Float64Var(&f.processNoise, "process-noise", 0, "process noise magnitude for every state")
	fl.Float64Var(&f.measurementNoise, "measurement-noise", 0, "measurement noise magnitude for every output")
	fl.StringVar(&f.noiseDist, "noise-dist", "", "noise distribution (normal, uniform, triangular)")
	fl.StringArrayVar(&f.set, "set", nil, "parameter override key=value, dotted keys for nested values")
	fl.BoolVar(&f.print, "print", false, "log every saved sample")
}

// config layers preset, config file and changed flags, in that order.
func (f *runFlags) config(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Model = model

	if f.preset != "" {
		cfg = config.GetPreset(model, f.preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", f.preset, config.ListPresets(model))
		}
	}

	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		cfg.Model = model
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Mode = f.mode
	}
	if changed("time") {
		cfg.Time = f.duration
		if !changed("mode") {
			cfg.Mode = config.ModeTime
		}
	}
	if changed("dt") {
		cfg.Sim.Dt = f.dt
	}
	if changed("save-freq") {
		cfg.Sim.SaveFreq = f.saveFreq
	}
	if changed("horizon") {
		cfg.Sim.Horizon = f.horizon
	}
	if changed("max-steps") {
		cfg.Sim.MaxSteps = f.maxSteps
	}
	if changed("seed") {
		seed := f.seed
		cfg.Seed = &seed
	}
	if changed("integrator") {
		cfg.Sim.Integrator = f.integrator
	}
	if changed("threshold") {
		cfg.Thresholds = f.thresholds
	}
	if changed("print") {
		cfg.Sim.Print = f.print
	}

	overrides, err := f.overrides(changed)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		p := dynamo.NewParams(cfg.Params)
		if err := p.Overlay(overrides); err != nil {
			return nil, &dynamo.ConfigError{Field: "set", Err: err}
		}
		cfg.Params = p.Snapshot()
	}

	return cfg, cfg.Validate()
}

func (f *runFlags) overrides(changed func(string) bool) (params.Values, error) {
	out := params.Values{}
	if changed("process-noise") {
		out[dynamo.ParamProcessNoise] = f.processNoise
	}
	if changed("measurement-noise") {
		out[dynamo.ParamMeasurementNoise] = f.measurementNoise
	}
	if changed("noise-dist") {
		out[dynamo.ParamProcessNoiseDist] = f.noiseDist
		out[dynamo.ParamMeasurementNoiseDist] = f.noiseDist
	}

	for _, kv := range f.set {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, &dynamo.InputError{Arg: "set", Reason: fmt.Sprintf("expected key=value, got %q", kv)}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &dynamo.InputError{Arg: "set", Reason: fmt.Sprintf("%s: %v", key, err)}
		}
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(params.Values)
			if !ok {
				next = params.Values{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out, nil
}

func (a *app) runCmd() *cobra.Command {
	var (
		f           runFlags
		noSave      bool
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args[0])
			if err != nil {
				return err
			}
			exp, err := experiment.New(a.registry, cfg, experiment.WithLogger(a.log))
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			rec, err := metrics.NewRecorder(reg)
			if err != nil {
				return err
			}
			exp.Setup(rec)

			a.log.Info("running simulation", "model", cfg.Model, "mode", cfg.Mode, "seed", exp.Seed())
			start := time.Now()
			tr, err := exp.Run(cmd.Context())
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			runID := ""
			if !noSave {
				st, err := a.store()
				if err != nil {
					return err
				}
				if runID, err = st.Save(exp.Metadata(), tr); err != nil {
					return err
				}
			}

			printRun(cfg.Model, exp.Seed(), runID, elapsed, tr)
			if showMetrics {
				return writeMetrics(reg)
			}
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print run metrics in prometheus text format")
	return cmd
}

func printRun(model string, seed uint64, runID string, elapsed time.Duration, tr *sim.Trajectory) {
	lines := []string{
		field("model", model),
		field("seed", seed),
		field("elapsed", elapsed.Round(time.Microsecond)),
		field("steps", tr.StepsTaken),
		field("samples", tr.Len()),
		field("final time", strconv.FormatFloat(tr.FinalTime(), 'g', 8, 64)),
	}
	reason := okStyle.Render(string(tr.Reason))
	if tr.Reason == sim.StopThreshold {
		reason = eventStyle.Render(string(tr.Reason) + " " + strings.Join(tr.Met, ", "))
	}
	lines = append(lines, labelStyle.Render("stopped")+reason)
	if runID != "" {
		lines = append(lines, field("run id", runID))
	}
	fmt.Println(panel("run", lines...))

	if tr.Len() == 0 {
		return
	}
	last := tr.Len() - 1
	fmt.Println(panel("final sample", append(
		sortedFields("z:", tr.Outputs[last]),
		sortedFields("es:", tr.EventStates[last])...)...))
}

func sortedFields(prefix string, m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, field(prefix+k, strconv.FormatFloat(m[k], 'g', 6, 64)))
	}
	return lines
}

func writeMetrics(g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) ensembleCmd() *cobra.Command {
	var (
		f       runFlags
		runs    int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "ensemble [model]",
		Short: "run seeded copies of a simulation and summarize event times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args[0])
			if err != nil {
				return err
			}
			if runs <= 0 {
				return &dynamo.InputError{Arg: "runs", Reason: "must be positive"}
			}
			exp, err := experiment.New(a.registry, cfg, experiment.WithLogger(a.log))
			if err != nil {
				return err
			}

			start := time.Now()
			trs, err := exp.Ensemble(cmd.Context(), runs, workers)
			if err != nil {
				return err
			}

			reasons := map[string]float64{}
			for _, tr := range trs {
				reasons[string(tr.Reason)]++
			}
			stats := sim.Summarize(sim.EventTimes(trs))

			lines := []string{
				field("model", cfg.Model),
				field("seeds", fmt.Sprintf("%d..%d", exp.Seed(), exp.Seed()+uint64(runs)-1)),
				field("elapsed", time.Since(start).Round(time.Millisecond)),
				field("events", stats.N),
			}
			if stats.N > 0 {
				lines = append(lines,
					field("mean", strconv.FormatFloat(stats.Mean, 'g', 6, 64)),
					field("std dev", strconv.FormatFloat(stats.StdDev, 'g', 6, 64)),
					field("min", strconv.FormatFloat(stats.Min, 'g', 6, 64)),
					field("max", strconv.FormatFloat(stats.Max, 'g', 6, 64)),
				)
			}
			fmt.Println(panel("ensemble", lines...))
			fmt.Println(panel("stop reasons", sortedFields("", reasons)...))
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().IntVar(&runs, "runs", 20, "number of runs")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 for the default)")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		f      runFlags
		param  string
		values []float64
	)
	cmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "run a simulation for each value of one parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args[0])
			if err != nil {
				return err
			}
			results, err := automation.RunSweep(cmd.Context(), &automation.ParameterSweep{
				Config: *cfg,
				Param:  param,
				Values: values,
			}, a.registry, a.log)
			if err != nil {
				return err
			}

			lines := make([]string, 0, len(results))
			for _, r := range results {
				outcome := subtleStyle.Render(string(r.Reason))
				if !math.IsNaN(r.EventTime) {
					outcome = eventStyle.Render(fmt.Sprintf("%s at %g", strings.Join(r.Met, ", "), r.EventTime))
				}
				lines = append(lines, labelStyle.Render(strconv.FormatFloat(r.ParamValue, 'g', 6, 64))+outcome)
			}
			fmt.Println(panel("sweep "+param, lines...))
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&param, "param", "", "dotted parameter path to sweep")
	cmd.Flags().Float64SliceVar(&values, "values", nil, "comma separated parameter values")
	return cmd
}
