package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/voltlab/celldyn/internal/metrics"
	"github.com/voltlab/celldyn/internal/solver"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Cell        string             `json:"cell"`
	Timestamp   time.Time          `json:"timestamp"`
	TEnd        float64            `json:"t_end"`
	Samples     int                `json:"samples"`
	Inputs      map[string]float64 `json:"inputs"`
	Outputs     []string           `json:"outputs"`
	Steps       int                `json:"steps"`
	NewtonIters int                `json:"newton_iters"`
	StepRetries int                `json:"step_retries"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Save writes one run directory: metadata.json plus outputs.csv with a time
// column and one column per output variable.
func (s *Store) Save(cell string, sol *solver.Solution) (string, error) {
	runID := fmt.Sprintf("%s_%d", cell, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Cell:        cell,
		Timestamp:   time.Now(),
		TEnd:        sol.T[len(sol.T)-1],
		Samples:     len(sol.T),
		Inputs:      map[string]float64(sol.Inputs),
		Outputs:     sol.OutputNames(),
		Steps:       sol.Stats.Steps,
		NewtonIters: sol.Stats.NewtonIters,
		StepRetries: sol.Stats.StepRetries,
		Metrics:     metrics.Summary(sol),
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "outputs.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	names := sol.OutputNames()
	header := append([]string{"time"}, names...)
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i, t := range sol.T {
		row := []string{strconv.FormatFloat(t, 'f', 6, 64)}
		for _, name := range names {
			tr, _ := sol.Output(name)
			row = append(row, strconv.FormatFloat(tr.Data[i], 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadOutputs reads a run's outputs.csv back as times plus one series per
// output column.
func (s *Store) LoadOutputs(runID string) ([]float64, map[string][]float64, error) {
	csvPath := filepath.Join(s.baseDir, runID, "outputs.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	if len(records) < 2 {
		return []float64{}, map[string][]float64{}, nil
	}

	names := records[0][1:]
	times := make([]float64, 0, len(records)-1)
	series := make(map[string][]float64, len(names))

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) != len(names)+1 {
			continue
		}

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		times = append(times, t)

		for j, name := range names {
			val, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				val = 0
			}
			series[name] = append(series[name], val)
		}
	}

	return times, series, nil
}
