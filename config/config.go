// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/search"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid")

// Config holds all simulation configuration parameters.
type Config struct {
	Boat      BoatConfig      `yaml:"boat"`
	Search    SearchConfig    `yaml:"search"`
	Field     FieldConfig     `yaml:"field"`
	Sim       SimConfig       `yaml:"sim"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// BoatConfig holds the vehicle parameters.
type BoatConfig struct {
	Velocity float64       `yaml:"velocity" validate:"gt=0"` // meters per second
	Starts   []StartConfig `yaml:"starts" validate:"required,min=1,dive"`
}

// StartConfig is the initial pose of one boat.
type StartConfig struct {
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Heading float64 `yaml:"heading"` // radians
}

// SearchConfig holds the controller parameters.
type SearchConfig struct {
	TickDuration   float64          `yaml:"tick_duration" validate:"gt=0"`   // seconds
	SamplingRadius float64          `yaml:"sampling_radius" validate:"gt=0"` // meters
	SampleCount    int              `yaml:"sample_count" validate:"gt=0"`
	FixedStep      float64          `yaml:"fixed_step" validate:"gt=0"` // meters per fixed-step leg
	Technique      search.Technique `yaml:"technique" validate:"required"`
	Policy         search.Policy    `yaml:"policy" validate:"required"`
}

// FieldConfig lists the Gaussian components of the concentration field.
type FieldConfig struct {
	Components []ComponentConfig `yaml:"components" validate:"required,min=1,dive"`
}

// ComponentConfig is one Gaussian component.
type ComponentConfig struct {
	Mean       [2]float64    `yaml:"mean"`
	Covariance [2][2]float64 `yaml:"covariance"`
}

// SimConfig holds driver parameters.
type SimConfig struct {
	MaxTicks          int     `yaml:"max_ticks" validate:"gte=0"`          // 0 = run until every boat stops
	ConvergenceRadius float64 `yaml:"convergence_radius" validate:"gte=0"` // 0 = sampling radius
}

// TelemetryConfig holds telemetry and output parameters.
type TelemetryConfig struct {
	StatsWindow float64 `yaml:"stats_window" validate:"gt=0"` // seconds of simulated time per window
	Trajectory  bool    `yaml:"trajectory"`                   // write trajectory.csv
}

// StoreConfig holds run history persistence parameters.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty disables the store
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address; empty disables the endpoint
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	MaxStep           float64 // Boat.Velocity * Search.TickDuration
	AngleStep         float64 // 2*pi / Search.SampleCount
	ConvergenceRadius float64 // Sim.ConvergenceRadius, or the sampling radius when unset
	WindowTicks       int     // Telemetry.StatsWindow in ticks, at least 1
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize validates the configuration and recomputes derived values.
// Call it after changing fields of a loaded config.
func (c *Config) Finalize() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

var validate = validator.New()

// Validate checks struct constraints, then builds the field and the
// controller configuration so that every invalid parameter is reported at
// load time.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := c.BuildField(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.SearchConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	sc := c.SearchConfig()
	c.Derived.MaxStep = sc.MaxStep()
	c.Derived.AngleStep = sc.AngleStep()

	c.Derived.ConvergenceRadius = c.Sim.ConvergenceRadius
	if c.Derived.ConvergenceRadius == 0 {
		c.Derived.ConvergenceRadius = c.Search.SamplingRadius
	}

	c.Derived.WindowTicks = int(c.Telemetry.StatsWindow / c.Search.TickDuration)
	if c.Derived.WindowTicks < 1 {
		c.Derived.WindowTicks = 1
	}
}

// SearchConfig returns the controller parameters.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		TickDuration:   c.Search.TickDuration,
		Velocity:       c.Boat.Velocity,
		SamplingRadius: c.Search.SamplingRadius,
		SampleCount:    c.Search.SampleCount,
		FixedStep:      c.Search.FixedStep,
		Technique:      c.Search.Technique,
		Policy:         c.Search.Policy,
	}
}

// Components returns the configured field components.
func (c *Config) Components() []field.Component {
	out := make([]field.Component, len(c.Field.Components))
	for i, comp := range c.Field.Components {
		out[i] = field.Component{Mean: comp.Mean, Covariance: comp.Covariance}
	}
	return out
}

// BuildField builds the concentration field.
func (c *Config) BuildField() (*field.Field, error) {
	return field.New(c.Components()...)
}

// StartPoses returns the configured start poses.
func (c *Config) StartPoses() []kinematics.Pose {
	out := make([]kinematics.Pose, len(c.Boat.Starts))
	for i, s := range c.Boat.Starts {
		out[i] = kinematics.Pose{X: s.X, Y: s.Y, Theta: kinematics.NormalizeHeading(s.Heading)}
	}
	return out
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
