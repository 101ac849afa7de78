package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/voltlab/celldyn/internal/ad"
	"github.com/voltlab/celldyn/internal/bridge"
	"github.com/voltlab/celldyn/internal/cells"
	"github.com/voltlab/celldyn/internal/config"
	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/solver"
	"github.com/voltlab/celldyn/internal/store"
	"github.com/voltlab/celldyn/internal/sweep"
	"github.com/voltlab/celldyn/internal/tui"
)

var (
	dataDir    string
	verbose    bool
	configFile string

	preset  string
	tEnd    float64
	samples int
	points  int
	current float64
	inputs  []string

	rtol float64
	atol float64

	gradOutput string

	sweepParam string
	sweepMin   float64
	sweepMax   float64
	sweepN     int

	exportSVG string
	exportOut string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "celldyn",
		Short: "battery cell simulation and differentiable solving",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".celldyn", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	solveCmd := &cobra.Command{
		Use:   "solve [cell]",
		Short: "solve a cell and store the run",
		Args:  cobra.ExactArgs(1),
		RunE:  runSolve,
	}
	addSolveFlags(solveCmd)

	gradCmd := &cobra.Command{
		Use:   "grad [cell]",
		Short: "differentiate an output with respect to every input",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrad,
	}
	addSolveFlags(gradCmd)
	gradCmd.Flags().StringVar(&gradOutput, "output", cells.OutputVoltage, "output variable to differentiate")

	sweepCmd := &cobra.Command{
		Use:   "sweep [cell]",
		Short: "grid search one input against a reference solve",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	addSolveFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", cells.CurrentInput, "input to sweep")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0.1, "sweep lower bound")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 0.5, "sweep upper bound")
	sweepCmd.Flags().IntVar(&sweepN, "n", 9, "number of grid points")

	liveCmd := &cobra.Command{
		Use:   "live [cell]",
		Short: "solve with a live terminal view",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	addSolveFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as JSON or SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&exportSVG, "svg", "", "render the named output as SVG instead of JSON")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to a file instead of stdout")

	cellsCmd := &cobra.Command{
		Use:   "cells",
		Short: "list builtin cells",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range cells.NewRegistry().List() {
				fmt.Println(name)
				for _, p := range config.ListPresets(name) {
					fmt.Printf("  preset: %s\n", p)
				}
			}
		},
	}

	rootCmd.AddCommand(solveCmd, gradCmd, sweepCmd, liveCmd, listCmd, plotCmd, exportCmd, cellsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSolveFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&tEnd, "time", config.DefaultTEnd, "end time in seconds")
	cmd.Flags().IntVar(&samples, "samples", config.DefaultSamples, "number of sample points")
	cmd.Flags().IntVar(&points, "points", config.DefaultPts, "grid points per spatial domain")
	cmd.Flags().Float64Var(&current, "current", config.DefaultCurrent, "applied current in amps")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "named input as name=value, repeatable")
	cmd.Flags().Float64Var(&rtol, "rtol", config.DefaultRTol, "relative tolerance")
	cmd.Flags().Float64Var(&atol, "atol", config.DefaultATol, "absolute tolerance")
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "named preset for the cell")
}

// buildConfig merges defaults, the optional config file, and CLI flags.
// Flags the user set explicitly win over the file.
func buildConfig(cmd *cobra.Command, cell string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		if configFile != "" {
			return nil, fmt.Errorf("--preset and --config are mutually exclusive")
		}
		cfg = config.GetPreset(cell, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q for cell %s", preset, cell)
		}
	} else if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Cell = cell
	if cfg.Inputs == nil {
		cfg.Inputs = map[string]float64{}
	}
	fromDefaults := configFile == "" && preset == ""
	if cmd.Flags().Changed("time") || fromDefaults {
		cfg.TEnd = tEnd
	}
	if cmd.Flags().Changed("samples") || fromDefaults {
		cfg.Samples = samples
	}
	if cmd.Flags().Changed("points") || fromDefaults {
		cfg.Points = map[string]int{"particle": points}
	}
	if cmd.Flags().Changed("rtol") {
		cfg.Solver.RTol = rtol
	}
	if cmd.Flags().Changed("atol") {
		cfg.Solver.ATol = atol
	}
	if cmd.Flags().Changed("current") {
		cfg.Inputs[cells.CurrentInput] = current
	}
	for _, kv := range inputs {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q, want name=value", kv)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --input %q: %w", kv, err)
		}
		cfg.Inputs[name] = f
	}
	return cfg, cfg.Validate()
}

func prepare(cmd *cobra.Command, cellName string) (*config.Config, *cells.Cell, *solver.Solver, error) {
	cfg, err := buildConfig(cmd, cellName)
	if err != nil {
		return nil, nil, nil, err
	}
	cell, err := cells.NewRegistry().Get(cellName)
	if err != nil {
		return nil, nil, nil, err
	}
	slv := solver.New(solver.Options{
		RTol:          cfg.Solver.RTol,
		ATol:          cfg.Solver.ATol,
		MaxNewton:     cfg.Solver.MaxNewton,
		InternalSteps: cfg.Solver.InternalSteps,
	})
	return cfg, cell, slv, nil
}

// cellInputs filters the configured inputs down to the ones the system
// actually defers.
func cellInputs(cfg *config.Config, names []string) dae.Inputs {
	in := dae.Inputs{}
	for _, name := range names {
		if v, ok := cfg.Inputs[name]; ok {
			in[name] = v
		}
	}
	return in
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, cell, slv, err := prepare(cmd, args[0])
	if err != nil {
		return err
	}

	sys, err := cell.Discretise(cfg.Points)
	if err != nil {
		return err
	}

	st := store.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Printf("solving %s...\n", cell.Name)
	start := time.Now()

	sol, err := slv.Solve(sys, cfg.TEval(), cellInputs(cfg, sys.InputNames()))
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	runID, err := st.Save(cell.Name, sol)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d  newton iters: %d  retries: %d\n\n",
		sol.Stats.Steps, sol.Stats.NewtonIters, sol.Stats.StepRetries)

	for _, name := range sol.OutputNames() {
		tr, _ := sol.Output(name)
		graph := asciigraph.Plot(tr.Data,
			asciigraph.Height(8),
			asciigraph.Width(70),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func runGrad(cmd *cobra.Command, args []string) error {
	cfg, cell, slv, err := prepare(cmd, args[0])
	if err != nil {
		return err
	}

	sys, err := cell.Discretise(cfg.Points)
	if err != nil {
		return err
	}
	if len(sys.InputNames()) == 0 {
		return fmt.Errorf("cell %s defers no inputs to differentiate", cell.Name)
	}

	br := bridge.New(slv)
	f, err := br.Jaxify(sys, cfg.TEval(), bridge.Options{
		Outputs:                []string{gradOutput},
		Inputs:                 cellInputs(cfg, sys.InputNames()),
		CalculateSensitivities: true,
	})
	if err != nil {
		return err
	}

	in := map[string]float64(cellInputs(cfg, sys.InputNames()))
	jac, err := ad.JacFwd(bridge.GetVarIdx(f, 0))(ad.Vector(cfg.TEval()), in)
	if err != nil {
		return err
	}

	fmt.Printf("d %s / d inputs over t in [0, %g]\n\n", gradOutput, cfg.TEnd)
	for name, g := range jac {
		graph := asciigraph.Plot(g.Data(),
			asciigraph.Height(8),
			asciigraph.Width(70),
			asciigraph.Caption("d/d "+name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, cell, slv, err := prepare(cmd, args[0])
	if err != nil {
		return err
	}

	sys, err := cell.Discretise(cfg.Points)
	if err != nil {
		return err
	}
	in := cellInputs(cfg, sys.InputNames())
	if _, ok := in[sweepParam]; !ok {
		return fmt.Errorf("cell %s does not defer input %q", cell.Name, sweepParam)
	}

	// The configured inputs generate the reference trace; the sweep then
	// recovers the parameter from that trace.
	ref, err := slv.Solve(sys, cfg.TEval(), in)
	if err != nil {
		return err
	}
	refVolt, _ := ref.Output(cells.OutputVoltage)

	br := bridge.New(slv)
	f, err := br.Jaxify(sys, cfg.TEval(), bridge.Options{
		Outputs: []string{cells.OutputVoltage},
		Inputs:  in,
	})
	if err != nil {
		return err
	}
	fv, err := br.GetVar(f, cells.OutputVoltage)
	if err != nil {
		return err
	}

	objective := sweep.SSE(fv, cfg.TEval(), refVolt.Data)
	grid := sweep.NewGrid([]string{sweepParam}, [][]float64{sweep.Range(sweepMin, sweepMax, sweepN)})

	fmt.Printf("sweeping %s over [%g, %g] (%d points)...\n", sweepParam, sweepMin, sweepMax, sweepN)
	start := time.Now()

	best, sse, err := grid.Search(context.Background(), func(p map[string]float64) (float64, error) {
		full := in.Clone()
		for k, v := range p {
			full[k] = v
		}
		return objective(map[string]float64(full))
	})
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", time.Since(start))
	for k, v := range best {
		fmt.Printf("best %s: %.6f (reference %.6f)\n", k, v, in[k])
	}
	fmt.Printf("sse: %.6e\n", sse)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, cell, slv, err := prepare(cmd, args[0])
	if err != nil {
		return err
	}

	sys, err := cell.Discretise(cfg.Points)
	if err != nil {
		return err
	}
	in := cellInputs(cfg, sys.InputNames())

	ch := make(chan tui.Sample, 64)
	slv.AddObserver(dae.ObserverFunc(func(t float64, y dae.State) {
		v, err := sys.Output(cells.OutputVoltage, t, y, in)
		if err != nil {
			return
		}
		ch <- tui.Sample{T: t, V: v}
	}))

	go func() {
		_, err := slv.Solve(sys, cfg.TEval(), in)
		if err != nil {
			ch <- tui.Sample{Err: err}
		}
		close(ch)
	}()

	p := tea.NewProgram(tui.NewModel(cell.Name, cells.OutputVoltage, ch))
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCELL\tTIME\tT_END\tSAMPLES\tSTEPS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\t%d\t%d\n",
			run.ID,
			run.Cell,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.TEnd,
			run.Samples,
			run.Steps,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := store.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	_, series, err := st.LoadOutputs(runID)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("cell: %s\n", meta.Cell)
	fmt.Printf("samples: %d\n\n", meta.Samples)

	for _, name := range meta.Outputs {
		data, ok := series[name]
		if !ok || len(data) == 0 {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := store.New(dataDir)

	if exportSVG != "" {
		svg, err := st.ExportSVG(runID, exportSVG, 640, 240)
		if err != nil {
			return err
		}
		if exportOut == "" {
			fmt.Println(svg)
			return nil
		}
		return os.WriteFile(exportOut, []byte(svg), 0644)
	}

	if exportOut == "" {
		return st.ExportJSON(runID, os.Stdout)
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	defer f.Close()
	return st.ExportJSON(runID, f)
}
