package campaign

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/wasmdiff/internal/engine"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

//go:embed config.cue
var configSchema string

// Defaults.
const (
	DefaultBlockSize   = 4096
	DefaultSteps       = 10
	DefaultMemorySteps = 5
	DefaultFlushEvery  = 10
)

// EngineConfig describes one engine runner.
type EngineConfig struct {
	// ID must match a row of the store's implementation catalogue.
	ID   int64    `yaml:"id" json:"id"`
	Name string   `yaml:"name" json:"name"`
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Runner returns the supervisor launch description.
func (e EngineConfig) Runner() supervisor.Runner {
	return supervisor.Runner{Path: e.Path, Args: e.Args}
}

// GeneratorConfig describes the generator executable.
type GeneratorConfig struct {
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Config is a campaign description, loaded from YAML and flags.
type Config struct {
	// Seed is the top-level seed. Nil derives one from the clock.
	Seed        *int64          `yaml:"seed,omitempty" json:"seed,omitempty"`
	BlockSize   int             `yaml:"block_size" json:"block_size"`
	Steps       int             `yaml:"steps" json:"steps"`
	MemorySteps int             `yaml:"memory_steps" json:"memory_steps"`
	InvokeCount int             `yaml:"invoke_count" json:"invoke_count"`
	Timeout     time.Duration   `yaml:"timeout" json:"timeout"`
	FlushEvery  int             `yaml:"flush_every" json:"flush_every"`
	WorkDir     string          `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	MetricsAddr string          `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	Generator   GeneratorConfig `yaml:"generator" json:"generator"`
	Engines     []EngineConfig  `yaml:"engines" json:"engines"`
}

// DefaultConfig returns the default campaign, with both wazero engines and
// the generator served by the binary at self.
func DefaultConfig(self string) Config {
	engines := make([]EngineConfig, 0, len(store.DefaultImplementations))
	for i, mode := range []engine.Mode{engine.ModeInterpreter, engine.ModeCompiler} {
		impl := store.DefaultImplementations[i]
		engines = append(engines, EngineConfig{
			ID:   impl.ID,
			Name: impl.Name,
			Path: self,
			Args: []string{"runner", "--engine", string(mode)},
		})
	}
	return Config{
		BlockSize:   DefaultBlockSize,
		Steps:       DefaultSteps,
		MemorySteps: DefaultMemorySteps,
		InvokeCount: engine.DefaultInvokeCount,
		Timeout:     supervisor.DefaultTimeout,
		FlushEvery:  DefaultFlushEvery,
		Generator:   GeneratorConfig{Path: self, Args: []string{"generate"}},
		Engines:     engines,
	}
}

// LoadConfig reads a YAML campaign file over base. Fields absent from the
// file keep their value in base.
func LoadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema and the cross-field rules
// the schema cannot express.
func (cfg Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(configSchema).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := schema.Unify(cctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", firstCUEError(err))
	}

	if cfg.Engines[0].ID == cfg.Engines[1].ID {
		return fmt.Errorf("invalid config: engines share id %d", cfg.Engines[0].ID)
	}
	if cfg.Engines[0].Name == cfg.Engines[1].Name {
		return fmt.Errorf("invalid config: engines share name %q", cfg.Engines[0].Name)
	}
	return nil
}

// firstCUEError keeps the first of a CUE error list.
func firstCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	return errors.New(errs[0].Error())
}
