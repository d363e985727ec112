// Package main provides CMA-ES optimization for finding controller parameters
// that reach the field peak in the fewest ticks.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/algaeseek/config"
)

// evalRecord is one row of optimize_log.csv.
type evalRecord struct {
	Eval           int     `csv:"eval"`
	Fitness        float64 `csv:"fitness"`
	SamplingRadius float64 `csv:"sampling_radius"`
	FixedStep      float64 `csv:"fixed_step"`
	SampleCount    int     `csv:"sample_count"`
	MeanTicks      float64 `csv:"mean_ticks"`
	MeanDistance   float64 `csv:"mean_distance"`
	Converged      int     `csv:"converged"`
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxTicks := flag.Int("max-ticks", 5000, "Maximum simulation duration in ticks (cap)")
	starts := flag.Int("starts", 8, "Number of start poses per evaluation, on a ring around the peak")
	ringRadius := flag.Float64("ring-radius", 15, "Distance of the start poses from the peak")
	penalty := flag.Float64("penalty", 200, "Ticks charged per meter of final distance to the peak")
	maxEvals := flag.Int("max-evals", 200, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}

	// Simulation runs log every finished boat; keep only problems.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	baseCfg := config.Cfg()

	f, err := baseCfg.BuildField()
	if err != nil {
		log.Fatalf("failed to build field: %v", err)
	}
	px, py, err := f.Peak()
	if err != nil {
		log.Fatalf("failed to locate peak: %v", err)
	}

	params := NewParamVector()
	evaluator, err := NewFitnessEvaluator(params, *maxTicks, *penalty, ringStarts(px, py, *ringRadius, *starts), baseCfg)
	if err != nil {
		log.Fatalf("failed to create evaluator: %v", err)
	}

	dim := params.Dim()
	initX := params.Normalize(params.ExtractFromConfig(baseCfg))

	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0, // Sequential evaluation; starts run in parallel
	}

	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}

	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}

	logPath := filepath.Join(*outputDir, "optimize_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	evalCount := 0
	bestFitness := 1e18
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := params.Denormalize(x)
			fitness := evaluator.Evaluate(raw)
			evalCount++

			clamped := params.Clamp(raw)
			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			stats := evaluator.LastStats()
			row := []evalRecord{{
				Eval:           evalCount,
				Fitness:        fitness,
				SamplingRadius: clamped[0],
				FixedStep:      clamped[1],
				SampleCount:    int(clamped[2]),
				MeanTicks:      stats.MeanTicks,
				MeanDistance:   stats.MeanDistance,
				Converged:      stats.Converged,
			}}
			var werr error
			if evalCount == 1 {
				werr = gocsv.Marshal(row, logFile)
			} else {
				werr = gocsv.MarshalWithoutHeaders(row, logFile)
			}
			if werr != nil {
				log.Printf("failed to write log row: %v", werr)
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(*maxEvals-evalCount) * avgPerEval

			fmt.Printf("Eval %d/%d: ticks=%s dist=%.3f converged=%d/%d (best=%s) | elapsed: %s, ETA: %s\n",
				evalCount, *maxEvals, humanize.Commaf(stats.MeanTicks), stats.MeanDistance,
				stats.Converged, stats.Runs, humanize.Commaf(bestFitness),
				elapsed.Round(time.Second), remaining.Round(time.Second))

			return fitness
		},
	}

	fmt.Printf("Starting CMA-ES optimization with %d parameters, population=%d, max_evals=%d\n",
		dim, popSize, *maxEvals)
	fmt.Printf("Starts per evaluation: %d at %.1f m from the peak (%.3f, %.3f), ticks per run: %s\n",
		*starts, *ringRadius, px, py, humanize.Comma(int64(*maxTicks)))

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	if bestParams == nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}

	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", evalCount, time.Since(startTime).Round(time.Second))
	fmt.Printf("Best fitness: %s\n", humanize.Commaf(bestFitness))

	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Path, bestParams[i])
	}

	bestCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to reload config: %v", err)
	}
	params.ApplyToConfig(bestCfg, bestParams)
	if err := bestCfg.Finalize(); err != nil {
		log.Fatalf("best parameters are invalid: %v", err)
	}

	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}
}
