package cruncher

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied to trusted engine configurations, matching the usual
// bug-finding setup of the driver.
const (
	DefaultErrorLimit  = 20
	DefaultUnrollDepth = 2
)

// ScheduleConfig selects the scheduling mode and phase policy of a run.
type ScheduleConfig struct {
	Mode   string `yaml:"mode"`   // "sequential" or "concurrent"
	Policy string `yaml:"policy"` // "eager", "untrusted-first" or "phased"
}

// IDConfig is an optional explicit (X, Y, Z) id override for one logical
// thread or group.
type IDConfig struct {
	X uint64 `yaml:"x"`
	Y uint64 `yaml:"y"`
	Z uint64 `yaml:"z"`
}

// Dim3 converts the override to its interpreter form.
func (c *IDConfig) Dim3() Dim3 {
	return dim3(c.X, c.Y, c.Z)
}

// Config is the external description of one refutation run.
type Config struct {
	Schedule ScheduleConfig `yaml:"schedule"`
	Engines  []EngineConfig `yaml:"engines"`

	// ThreadIDs and GroupIDs override the id strategies of every untrusted
	// engine when both entries are given.
	ThreadIDs []IDConfig `yaml:"threadIds"`
	GroupIDs  []IDConfig `yaml:"groupIds"`

	// BlockBudget bounds interpreter block transitions per implementation.
	BlockBudget int `yaml:"blockBudget"`
}

// DefaultConfig returns a sequential run with a single trusted engine.
func DefaultConfig() *Config {
	return &Config{
		Schedule: ScheduleConfig{Mode: "sequential"},
		Engines: []EngineConfig{
			{Trusted: true, ErrorLimit: DefaultErrorLimit, UnrollDepth: DefaultUnrollDepth},
		},
	}
}

// LoadConfig reads and validates a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	config := &Config{}
	if err := yaml.Unmarshal(buf, config); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	config.applyDefaults()
	return config, nil
}

// Validate rejects configurations the scheduler cannot honor.
func (c *Config) Validate() error {
	if _, err := ParseScheduleMode(c.Schedule.Mode); err != nil {
		return err
	}
	if _, err := ParsePhasePolicy(c.Schedule.Policy); err != nil {
		return err
	}
	if len(c.Engines) == 0 {
		return errors.New("no engines configured")
	}

	trusted := 0
	for i := range c.Engines {
		e := &c.Engines[i]
		if e.Trusted && !e.Informational {
			trusted++
		}
		if _, err := ParseIDStrategy(e.Strategy); err != nil {
			return err
		}
		if e.ErrorLimit < 0 {
			return errors.Errorf("engine %d: negative error limit", i)
		}
		if e.UnrollDepth < 0 {
			return errors.Errorf("engine %d: negative unroll depth", i)
		}
	}
	if trusted == 0 {
		return errors.New("no authoritative trusted engine configured")
	}

	if (len(c.ThreadIDs) > 0) != (len(c.GroupIDs) > 0) {
		return errors.New("thread and group id overrides must be given together")
	}
	if len(c.ThreadIDs) > 0 && (len(c.ThreadIDs) != 2 || len(c.GroupIDs) != 2) {
		return errors.New("id overrides must list exactly two logical threads")
	}
	if c.BlockBudget < 0 {
		return errors.New("negative block budget")
	}
	return nil
}

// applyDefaults fills unset trusted-engine knobs. Zero and absent are the
// same in the yaml form, so an explicit zero also takes the default.
func (c *Config) applyDefaults() {
	for i := range c.Engines {
		e := &c.Engines[i]
		if !e.Trusted {
			continue
		}
		if e.ErrorLimit == 0 {
			e.ErrorLimit = DefaultErrorLimit
		}
		if e.UnrollDepth == 0 {
			e.UnrollDepth = DefaultUnrollDepth
		}
	}
}

// IDOverrides returns the configured id overrides in interpreter form, or
// nils when the run should pick ids by strategy.
func (c *Config) IDOverrides() (thread, group *[2]Dim3) {
	if len(c.ThreadIDs) != 2 || len(c.GroupIDs) != 2 {
		return nil, nil
	}
	t := [2]Dim3{c.ThreadIDs[0].Dim3(), c.ThreadIDs[1].Dim3()}
	g := [2]Dim3{c.GroupIDs[0].Dim3(), c.GroupIDs[1].Dim3()}
	return &t, &g
}
