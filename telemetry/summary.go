package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// RunSummary is the outcome of one boat's search.
type RunSummary struct {
	RunID     string `json:"run_id" csv:"run_id" db:"run_id"`
	Boat      int    `json:"boat" csv:"boat" db:"boat"`
	Technique string `json:"technique" csv:"technique" db:"technique"`
	Policy    string `json:"policy" csv:"policy" db:"policy"`

	StartX float64 `json:"start_x" csv:"start_x" db:"start_x"`
	StartY float64 `json:"start_y" csv:"start_y" db:"start_y"`

	FinalX     float64 `json:"final_x" csv:"final_x" db:"final_x"`
	FinalY     float64 `json:"final_y" csv:"final_y" db:"final_y"`
	FinalTheta float64 `json:"final_theta" csv:"final_theta" db:"final_theta"`
	State      string  `json:"state" csv:"state" db:"state"`

	Ticks       int     `json:"ticks" csv:"ticks" db:"ticks"`
	SimTimeSec  float64 `json:"sim_time" csv:"sim_time" db:"sim_time"`
	Distance    float64 `json:"distance" csv:"distance" db:"distance"`
	Cycles      int     `json:"cycles" csv:"cycles" db:"cycles"`
	Transitions int     `json:"transitions" csv:"transitions" db:"transitions"`

	FinalConcentration float64 `json:"final_concentration" csv:"final_concentration" db:"final_concentration"`
	MinConcentration   float64 `json:"min_concentration" csv:"min_concentration" db:"min_concentration"`
	MaxConcentration   float64 `json:"max_concentration" csv:"max_concentration" db:"max_concentration"`

	PeakX        float64 `json:"peak_x" csv:"peak_x" db:"peak_x"`
	PeakY        float64 `json:"peak_y" csv:"peak_y" db:"peak_y"`
	PeakDistance float64 `json:"peak_distance" csv:"peak_distance" db:"peak_distance"`
	Converged    bool    `json:"converged" csv:"converged" db:"converged"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s RunSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("boat", s.Boat),
		slog.String("technique", s.Technique),
		slog.String("state", s.State),
		slog.Float64("final_x", s.FinalX),
		slog.Float64("final_y", s.FinalY),
		slog.Int("ticks", s.Ticks),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Float64("distance", s.Distance),
		slog.Int("cycles", s.Cycles),
		slog.Float64("min_concentration", s.MinConcentration),
		slog.Float64("max_concentration", s.MaxConcentration),
		slog.Float64("peak_distance", s.PeakDistance),
		slog.Bool("converged", s.Converged),
	)
}

// SaveSummaries writes run summaries to path as indented JSON.
func SaveSummaries(path string, summaries []RunSummary) error {
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summaries: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write summaries: %w", err)
	}
	return nil
}

// LoadSummaries reads run summaries written by SaveSummaries.
func LoadSummaries(path string) ([]RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summaries: %w", err)
	}

	var summaries []RunSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("unmarshal summaries: %w", err)
	}
	return summaries, nil
}
