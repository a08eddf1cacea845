// Package storage keeps simulation runs on disk. Each run is a directory
// holding metadata.json and trajectory.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
)

// Column prefixes of trajectory.csv.
const (
	prefixInput  = "u:"
	prefixState  = "x:"
	prefixOutput = "z:"
	prefixEvent  = "es:"
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

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID         string        `json:"id"`
	Model      string        `json:"model"`
	Timestamp  time.Time     `json:"timestamp"`
	Seed       *uint64       `json:"seed,omitempty"`
	Mode       string        `json:"mode"`
	Dt         float64       `json:"dt"`
	SaveFreq   float64       `json:"save_freq"`
	TimeLimit  float64       `json:"time_limit,omitempty"`
	Horizon    float64       `json:"horizon,omitempty"`
	Integrator string        `json:"integrator,omitempty"`
	Thresholds []string      `json:"thresholds,omitempty"`
	Schema     dynamo.Schema `json:"schema"`
	Params     params.Values `json:"params,omitempty"`

	Reason  sim.StopReason `json:"reason"`
	Met     []string       `json:"met,omitempty"`
	Steps   int            `json:"steps"`
	Samples int            `json:"samples"`
}

// Save writes a run and returns its id. The id, timestamp and run
// diagnostics of meta are filled from the trajectory.
func (s *Store) Save(meta RunMetadata, tr *sim.Trajectory) (string, error) {
	runID := fmt.Sprintf("%s_%s", meta.Model, xid.New().String())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta.ID = runID
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Reason = tr.Reason
	meta.Met = tr.Met
	meta.Steps = tr.StepsTaken
	meta.Samples = tr.Len()

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	if err := writeTrajectory(filepath.Join(runDir, trajectoryFile), meta.Schema, tr); err != nil {
		return "", fmt.Errorf("write trajectory: %w", err)
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrajectory(path string, schema dynamo.Schema, tr *sim.Trajectory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{"time"}
	for _, group := range []struct {
		prefix string
		names  []string
	}{
		{prefixInput, schema.Inputs},
		{prefixState, schema.States},
		{prefixOutput, schema.Outputs},
		{prefixEvent, schema.Events},
	} {
		for _, n := range group.names {
			header = append(header, group.prefix+n)
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, t := range tr.Times {
		row := []string{formatFloat(t)}
		row = appendValues(row, tr.Inputs[i], schema.Inputs)
		row = appendValues(row, tr.States[i], schema.States)
		row = appendValues(row, tr.Outputs[i], schema.Outputs)
		row = appendValues(row, tr.EventStates[i], schema.Events)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func appendValues(row []string, m map[string]float64, keys []string) []string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, formatFloat(v))
	}
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// List returns the metadata of every run, oldest first.
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
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadTrajectory reads the saved samples of a run. Run diagnostics come
// from its metadata.
func (s *Store) LoadTrajectory(runID string) (*sim.Trajectory, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	tr := &sim.Trajectory{
		StepsTaken: meta.Steps,
		Reason:     meta.Reason,
		Met:        meta.Met,
	}
	if len(records) == 0 {
		return tr, nil
	}

	header := records[0]
	for line, record := range records[1:] {
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("run %s line %d: %w", runID, line+2, err)
		}
		u, x := dynamo.Input{}, dynamo.State{}
		z, es := dynamo.Output{}, dynamo.EventState{}
		for j := 1; j < len(record) && j < len(header); j++ {
			if record[j] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("run %s line %d column %s: %w", runID, line+2, header[j], err)
			}
			name := header[j]
			switch {
			case strings.HasPrefix(name, prefixInput):
				u[strings.TrimPrefix(name, prefixInput)] = v
			case strings.HasPrefix(name, prefixState):
				x[strings.TrimPrefix(name, prefixState)] = v
			case strings.HasPrefix(name, prefixOutput):
				z[strings.TrimPrefix(name, prefixOutput)] = v
			case strings.HasPrefix(name, prefixEvent):
				es[strings.TrimPrefix(name, prefixEvent)] = v
			}
		}
		tr.Times = append(tr.Times, t)
		tr.Inputs = append(tr.Inputs, u)
		tr.States = append(tr.States, x)
		tr.Outputs = append(tr.Outputs, z)
		tr.EventStates = append(tr.EventStates, es)
	}
	return tr, nil
}

// Export is the JSON document written by ExportJSON.
type Export struct {
	Metadata   RunMetadata     `json:"metadata"`
	Trajectory *sim.Trajectory `json:"trajectory"`
}

// ExportJSON writes a run's metadata and samples to w as one JSON document.
func (s *Store) ExportJSON(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	tr, err := s.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Export{Metadata: *meta, Trajectory: tr})
}
