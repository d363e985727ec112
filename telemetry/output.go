package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/algaeseek/config"
)

// csvFile is an output file whose header is written with the first record.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func openCSV(dir, name string) (*csvFile, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvFile{f: f}, nil
}

// write appends records, emitting the header on the first call.
func writeCSV[T any](c *csvFile, records []T) error {
	if len(records) == 0 {
		return nil
	}
	if !c.headerWritten {
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir string

	telemetry   *csvFile
	perf        *csvFile
	trajectory  *csvFile
	transitions *csvFile
	runs        *csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled). trajectory.csv is only
// created when trajectory is true.
func NewOutputManager(dir string, trajectory bool) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	files := []struct {
		name   string
		target **csvFile
	}{
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"transitions.csv", &om.transitions},
		{"runs.csv", &om.runs},
	}
	if trajectory {
		files = append(files, struct {
			name   string
			target **csvFile
		}{"trajectory.csv", &om.trajectory})
	}

	for _, spec := range files {
		c, err := openCSV(dir, spec.name)
		if err != nil {
			om.Close()
			return nil, err
		}
		*spec.target = c
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.telemetry, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteTrajectory appends committed poses to trajectory.csv.
func (om *OutputManager) WriteTrajectory(points []TrajectoryPoint) error {
	if om == nil || om.trajectory == nil {
		return nil
	}
	if err := writeCSV(om.trajectory, points); err != nil {
		return fmt.Errorf("writing trajectory: %w", err)
	}
	return nil
}

// WriteTransition appends a state change to transitions.csv.
func (om *OutputManager) WriteTransition(ev TransitionEvent) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.transitions, []TransitionEvent{ev}); err != nil {
		return fmt.Errorf("writing transition: %w", err)
	}
	return nil
}

// WriteRuns writes the final run summaries to runs.csv and runs.json.
func (om *OutputManager) WriteRuns(summaries []RunSummary) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.runs, summaries); err != nil {
		return fmt.Errorf("writing runs: %w", err)
	}
	return SaveSummaries(filepath.Join(om.dir, "runs.json"), summaries)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.telemetry, om.perf, om.trajectory, om.transitions, om.runs} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadCSV decodes records written by the output manager.
func ReadCSV[T any](r io.Reader) ([]T, error) {
	var out []T
	if err := gocsv.Unmarshal(r, &out); err != nil {
		return nil, err
	}
	return out, nil
}
