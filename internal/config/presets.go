package config

// Presets are named run setups per cell, selectable from the CLI.
var Presets = map[string]map[string]*Config{
	"spm": {
		"nominal": {
			Cell: "spm", TEnd: 360, Samples: 10,
			Points: map[string]int{"particle": 20},
			Inputs: map[string]float64{"Current function [A]": 0.222},
			Solver: SolverConfig{RTol: 1e-6, ATol: 1e-6},
		},
		"high-rate": {
			Cell: "spm", TEnd: 180, Samples: 20,
			Points: map[string]int{"particle": 20},
			Inputs: map[string]float64{"Current function [A]": 1.0},
			Solver: SolverConfig{RTol: 1e-6, ATol: 1e-6, InternalSteps: 32},
		},
		"fine-grid": {
			Cell: "spm", TEnd: 360, Samples: 25,
			Points: map[string]int{"particle": 80},
			Inputs: map[string]float64{"Current function [A]": 0.222},
			Solver: SolverConfig{RTol: 1e-8, ATol: 1e-8, InternalSteps: 16},
		},
	},
	"reservoir": {
		"nominal": {
			Cell: "reservoir", TEnd: 360, Samples: 10,
			Solver: SolverConfig{RTol: 1e-6, ATol: 1e-6},
		},
		"deep-discharge": {
			Cell: "reservoir", TEnd: 1800, Samples: 60,
			Solver: SolverConfig{RTol: 1e-6, ATol: 1e-6},
		},
	},
}

func GetPreset(cell, preset string) *Config {
	cellPresets, ok := Presets[cell]
	if !ok {
		return nil
	}
	cfg, ok := cellPresets[preset]
	if !ok {
		return nil
	}
	out := *cfg
	out.Points = make(map[string]int, len(cfg.Points))
	for k, v := range cfg.Points {
		out.Points[k] = v
	}
	out.Inputs = make(map[string]float64, len(cfg.Inputs))
	for k, v := range cfg.Inputs {
		out.Inputs[k] = v
	}
	return &out
}

func ListPresets(cell string) []string {
	cellPresets, ok := Presets[cell]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(cellPresets))
	for name := range cellPresets {
		names = append(names, name)
	}
	return names
}
