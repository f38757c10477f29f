// Package config provides configuration loading and access for the tuner.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/homoluden/fedkf-ga/errkind"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// maxSensors is the channel count of the signal and noise tables.
const maxSensors = 4

// Config holds all tuner configuration parameters.
type Config struct {
	Search     SearchConfig     `yaml:"search"`
	Model      ModelConfig      `yaml:"model"`
	Simulation SimulationConfig `yaml:"simulation"`
	Data       DataConfig       `yaml:"data"`
	Output     OutputConfig     `yaml:"output"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Store      StoreConfig      `yaml:"store"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SearchConfig holds genetic search parameters.
type SearchConfig struct {
	PopulationSize      int     `yaml:"population_size"`
	Generations         int     `yaml:"generations"`
	GenomeSize          int     `yaml:"genome_size"` // 0 = derived from the model
	CrossoverRate       float64 `yaml:"crossover_rate"`
	MutationRate        float64 `yaml:"mutation_rate"`
	Elitism             bool    `yaml:"elitism"`
	MinGene             float64 `yaml:"min_gene"`
	MaxGene             float64 `yaml:"max_gene"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Workers             int     `yaml:"workers"`
	Seed                uint64  `yaml:"seed"`
	MaxResample         int     `yaml:"max_resample"`
}

// ModelConfig describes the per-sensor transfer functions.
type ModelConfig struct {
	SensorsCount int     `yaml:"sensors_count"`
	NumOrder     int     `yaml:"num_order"`
	DenOrder     int     `yaml:"den_order"`
	SamplePeriod float64 `yaml:"sample_period"`
}

// SimulationConfig holds objective evaluation parameters.
type SimulationConfig struct {
	MaxSimLength int     `yaml:"max_sim_length"`
	FitnessCap   float64 `yaml:"fitness_cap"`
}

// DataConfig names the dataset files.
type DataConfig struct {
	GeometryPath    string `yaml:"geometry_path"`
	ProcessCovPath  string `yaml:"process_cov_path"`
	SensorCovPath   string `yaml:"sensor_cov_path"` // empty = estimate from noises
	SignalsPath     string `yaml:"signals_path"`
	NoisesPath      string `yaml:"noises_path"`
	TargetsPath     string `yaml:"targets_path"`
	ReplayGenesPath string `yaml:"replay_genes_path"`
}

// OutputConfig holds run artifact settings.
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	RecordPath string `yaml:"record_path"`
	Plot       bool   `yaml:"plot"`
}

// TelemetryConfig holds logging, statistics and metrics parameters.
type TelemetryConfig struct {
	LogLevel              string  `yaml:"log_level"`
	PerfWindow            int     `yaml:"perf_window"`
	HallOfFameSize        int     `yaml:"hall_of_fame_size"`
	StagnationGenerations int     `yaml:"stagnation_generations"`
	DiversityCollapse     float64 `yaml:"diversity_collapse"`
	MetricsAddr           string  `yaml:"metrics_addr"`
}

// StoreConfig selects the run history backend.
type StoreConfig struct {
	Kind string `yaml:"kind"` // memory | sqlite
	Path string `yaml:"path"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	MinGenomeSize int        // genes needed to decode every sensor
	ModelOrder    int        // state dimension of each sensor model
	GenomeSize    int        // Search.GenomeSize, or MinGenomeSize when unset
	LogLevel      slog.Level // parsed Telemetry.LogLevel
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

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
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
			return nil, fmt.Errorf("%w: parsing config file: %v", errkind.Configuration, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and recomputes derived values.
func (c *Config) Validate() error {
	c.computeDerived()

	m := c.Model
	switch {
	case m.SensorsCount < 1 || m.SensorsCount > maxSensors:
		return fmt.Errorf("%w: model.sensors_count %d outside [1,%d]", errkind.Configuration, m.SensorsCount, maxSensors)
	case m.NumOrder < 1 || m.DenOrder < 1:
		return fmt.Errorf("%w: model orders must be positive", errkind.Configuration)
	case c.Derived.ModelOrder < 1:
		return fmt.Errorf("%w: model needs at least 2 coefficients in num_order or den_order", errkind.Configuration)
	case !(m.SamplePeriod > 0):
		return fmt.Errorf("%w: model.sample_period %v must be positive", errkind.Configuration, m.SamplePeriod)
	case c.Search.GenomeSize < 0:
		return fmt.Errorf("%w: search.genome_size %d is negative", errkind.Configuration, c.Search.GenomeSize)
	case c.Derived.GenomeSize < c.Derived.MinGenomeSize:
		return fmt.Errorf("%w: search.genome_size %d, the model needs %d genes",
			errkind.Configuration, c.Derived.GenomeSize, c.Derived.MinGenomeSize)
	case c.Search.MinGene > c.Search.MaxGene:
		return fmt.Errorf("%w: search.min_gene %v above max_gene %v", errkind.Configuration, c.Search.MinGene, c.Search.MaxGene)
	case c.Simulation.MaxSimLength < 0:
		return fmt.Errorf("%w: simulation.max_sim_length %d is negative", errkind.Configuration, c.Simulation.MaxSimLength)
	case !(c.Simulation.FitnessCap > 0):
		return fmt.Errorf("%w: simulation.fitness_cap %v must be positive", errkind.Configuration, c.Simulation.FitnessCap)
	case c.Telemetry.PerfWindow < 1:
		return fmt.Errorf("%w: telemetry.perf_window %d must be positive", errkind.Configuration, c.Telemetry.PerfWindow)
	}

	switch c.Store.Kind {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store.kind %q", errkind.Configuration, c.Store.Kind)
	}
	if err := c.Derived.LogLevel.UnmarshalText([]byte(c.Telemetry.LogLevel)); err != nil {
		return fmt.Errorf("%w: telemetry.log_level: %v", errkind.Configuration, err)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.MinGenomeSize = c.Model.SensorsCount * (c.Model.NumOrder + c.Model.DenOrder)
	c.Derived.ModelOrder = max(c.Model.NumOrder, c.Model.DenOrder) - 1
	c.Derived.GenomeSize = c.Search.GenomeSize
	if c.Derived.GenomeSize == 0 {
		c.Derived.GenomeSize = c.Derived.MinGenomeSize
	}
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

// Print writes every setting of c as "section.key = value", one per line,
// in file order.
func Print(w io.Writer, c *Config) error {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var err error
	walkScalars(&doc, "", func(key string, n *yaml.Node) {
		if err == nil {
			_, err = fmt.Fprintf(w, "%s = %s\n", key, n.Value)
		}
	})
	return err
}

// Keys returns the dotted names of all settings.
func Keys() []string {
	var doc yaml.Node
	if err := doc.Encode(Defaults()); err != nil {
		panic(fmt.Sprintf("config: encoding defaults: %v", err))
	}
	var keys []string
	walkScalars(&doc, "", func(key string, _ *yaml.Node) { keys = append(keys, key) })
	return keys
}

// Set stores value under the dotted key in the YAML file at path, creating
// the file when it does not exist. Comments and unrelated keys are kept.
// The result must load as a valid configuration, otherwise the file is left
// untouched.
func Set(path, key, value string) error {
	known := false
	for _, k := range Keys() {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown setting %q", errkind.Configuration, key)
	}

	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: parsing config file: %v", errkind.Configuration, err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: config file is not a mapping", errkind.Configuration)
	}

	node := root
	parts := strings.Split(key, ".")
	for i, part := range parts {
		last := i == len(parts)-1
		child := lookup(node, part)
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode}
			if last {
				child.Kind = yaml.ScalarNode
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: part}, child)
		}
		node = child
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: %q is a section, not a setting", errkind.Configuration, key)
	}
	node.Tag = ""
	node.Style = 0
	node.Value = value

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return fmt.Errorf("%w: %s = %q: %v", errkind.Configuration, key, value, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s = %q: %w", key, value, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func walkScalars(n *yaml.Node, prefix string, fn func(key string, n *yaml.Node)) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkScalars(c, prefix, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			walkScalars(n.Content[i+1], key, fn)
		}
	case yaml.ScalarNode:
		fn(prefix, n)
	}
}
