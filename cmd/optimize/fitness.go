package main

import (
	"context"
	"math"
	"sync"

	"github.com/pthm-cable/algaeseek/config"
	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/sim"
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	maxTicks   int
	starts     []config.StartConfig
	baseConfig *config.Config
	field      *field.Field
	penalty    float64 // ticks charged per meter of final distance to the peak

	mu          sync.Mutex
	lastStats   evalStats
	bestFitness float64
}

// evalStats summarizes one evaluation across all starts.
type evalStats struct {
	MeanTicks    float64
	MeanDistance float64
	Converged    int
	Runs         int
}

// NewFitnessEvaluator creates a new evaluator. Every evaluation runs one boat
// from each start pose on the base config's field.
func NewFitnessEvaluator(params *ParamVector, maxTicks int, penalty float64, starts []config.StartConfig, baseCfg *config.Config) (*FitnessEvaluator, error) {
	f, err := baseCfg.BuildField()
	if err != nil {
		return nil, err
	}
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		starts:      starts,
		baseConfig:  baseCfg,
		field:       f,
		penalty:     penalty,
		bestFitness: math.Inf(1),
	}, nil
}

// LastStats returns the summary of the most recent evaluation.
func (fe *FitnessEvaluator) LastStats() evalStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastStats
}

// runResult holds the outcome of one start pose.
type runResult struct {
	ticks     int
	distance  float64
	converged bool
	failed    bool
}

// Evaluate computes fitness for a parameter vector (lower = better):
// mean ticks to stop plus penalty times mean final distance to the peak.
// Runs that hit the tick cap are charged the full cap.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(fe.starts))
	var wg sync.WaitGroup

	for i, start := range fe.starts {
		wg.Add(1)
		go func(idx int, s config.StartConfig) {
			defer wg.Done()
			results[idx] = fe.runSimulation(x, s)
		}(i, start)
	}
	wg.Wait()

	var stats evalStats
	var total float64
	for _, r := range results {
		stats.Runs++
		if r.failed {
			total += float64(fe.maxTicks) * 10
			continue
		}
		stats.MeanTicks += float64(r.ticks)
		stats.MeanDistance += r.distance
		if r.converged {
			stats.Converged++
		}
		total += float64(r.ticks) + fe.penalty*r.distance
	}

	n := float64(len(fe.starts))
	stats.MeanTicks /= n
	stats.MeanDistance /= n
	fitness := total / n

	fe.mu.Lock()
	fe.lastStats = stats
	if fitness < fe.bestFitness {
		fe.bestFitness = fitness
	}
	fe.mu.Unlock()

	return fitness
}

// runSimulation executes a single headless run from one start pose.
func (fe *FitnessEvaluator) runSimulation(x []float64, start config.StartConfig) runResult {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Boat.Starts = []config.StartConfig{start}
	cfg.Sim.MaxTicks = fe.maxTicks
	if err := cfg.Finalize(); err != nil {
		return runResult{failed: true}
	}

	s, err := sim.New(cfg, fe.field, sim.Options{})
	if err != nil {
		return runResult{failed: true}
	}
	if err := s.Run(context.Background()); err != nil {
		return runResult{failed: true}
	}

	r := s.Results()[0]
	ticks := r.Ticks
	if !s.Done() {
		ticks = fe.maxTicks
	}
	return runResult{ticks: ticks, distance: r.PeakDistance, converged: r.Converged}
}

// copyConfig creates a deep copy of the base config.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Boat.Starts = append([]config.StartConfig(nil), fe.baseConfig.Boat.Starts...)
	cfg.Field.Components = append([]config.ComponentConfig(nil), fe.baseConfig.Field.Components...)
	return &cfg
}

// ringStarts returns n start poses on a circle of the given radius around
// (cx, cy), each heading away from the center.
func ringStarts(cx, cy, radius float64, n int) []config.StartConfig {
	starts := make([]config.StartConfig, n)
	for i := range starts {
		angle := 2 * math.Pi * float64(i) / float64(n)
		x, y := kinematics.Project(cx, cy, angle, radius)
		starts[i] = config.StartConfig{X: x, Y: y, Heading: angle}
	}
	return starts
}
