package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/progsim/internal/automation"
	"github.com/san-kum/progsim/internal/config"
	"github.com/san-kum/progsim/internal/export"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			runs, err := st.List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODEL\tTIME\tMODE\tDT\tSTOP\tSTEPS\tSAMPLES")
			for _, run := range runs {
				stop := string(run.Reason)
				if len(run.Met) > 0 {
					stop += " " + strings.Join(run.Met, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%s\t%d\t%d\n",
					run.ID,
					run.Model,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Mode,
					run.Dt,
					stop,
					run.Steps,
					run.Samples,
				)
			}
			return w.Flush()
		},
	}
}

func (a *app) plotCmd() *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot stored outputs and event states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			tr, err := st.LoadTrajectory(args[0])
			if err != nil {
				return err
			}
			if tr.Len() < 2 {
				return fmt.Errorf("no data to plot")
			}

			fmt.Println(panel("run",
				field("run", meta.ID),
				field("model", meta.Model),
				field("samples", tr.Len()),
				field("time", fmt.Sprintf("%g .. %g", tr.Times[0], tr.FinalTime())),
			))

			if len(vars) == 0 {
				vars = append(vars, meta.Schema.Outputs...)
				vars = append(vars, meta.Schema.Events...)
			}
			for _, name := range vars {
				pts, err := export.Series(tr, name)
				if err != nil {
					return err
				}
				graph := asciigraph.Plot(export.Values(pts),
					asciigraph.Height(10),
					asciigraph.Width(80),
					asciigraph.Caption(name+" vs sample"),
				)
				fmt.Println(graph)
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&vars, "var", nil, "variables to plot (default: outputs and event states)")
	return cmd
}

func (a *app) exportJSONCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			return st.ExportJSON(args[0], os.Stdout)
		},
	}
}

func (a *app) exportSVGCmd() *cobra.Command {
	var (
		name          string
		out           string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export one variable of a run as an SVG line chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			tr, err := st.LoadTrajectory(args[0])
			if err != nil {
				return err
			}
			if name == "" && len(meta.Schema.Outputs) > 0 {
				name = meta.Schema.Outputs[0]
			}
			pts, err := export.Series(tr, name)
			if err != nil {
				return err
			}

			var marks []float64
			if len(meta.Met) > 0 {
				marks = append(marks, tr.FinalTime())
			}
			svg := export.TrajectoryToSVG(pts, width, height, "#00ff88", marks...)
			if svg == "" {
				return fmt.Errorf("no data to export")
			}
			if out == "" {
				out = fmt.Sprintf("%s_%s.svg", meta.ID, name)
			}
			if err := os.WriteFile(out, []byte(svg), 0644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "var", "", "variable to draw (default: first output)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().IntVar(&width, "width", 800, "image width")
	cmd.Flags().IntVar(&height, "height", 300, "image height")
	return cmd
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "list models and integrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := []string{}
			for _, name := range a.registry.ListModels() {
				entry, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				lines = append(lines, labelStyle.Width(16).Render(name)+subtleStyle.Render(entry.Description))
			}
			fmt.Println(panel("models", lines...))
			fmt.Println(panel("integrators", subtleStyle.Render(strings.Join(a.registry.ListIntegrators(), ", "))))
			return nil
		},
	}
}

func (a *app) presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}
}

func (a *app) scenarioCmd() *cobra.Command {
	var noSave bool
	cmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the steps of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			st, err := a.store()
			if err != nil {
				return err
			}
			if noSave {
				st = nil
			}

			results, err := automation.RunScenario(cmd.Context(), sc, a.registry, st, a.log)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "%s\n", titleStyle.Render(sc.Name))
			fmt.Fprintln(w, "STEP\tSEED\tSTOP\tEND\tRUN")
			for _, r := range results {
				stop := string(r.Trajectory.Reason)
				if len(r.Trajectory.Met) > 0 {
					stop += " " + strings.Join(r.Trajectory.Met, ",")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%g\t%s\n", r.Name, r.Seed, stop, r.Trajectory.FinalTime(), r.RunID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store runs even when a step asks to")
	return cmd
}
