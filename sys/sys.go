// Package sys reads the configuration of a raffle.
package sys

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/raffle/easyrand"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Default returns the configuration used for the keys missing from a file.
func Default() *Config {
	return &Config{
		EntranceFee: 100,
		Interval:    Duration{30 * time.Second},
		Oracle: OracleConfig{
			Nodes:     4,
			Threshold: 3,
			Delay:     Duration{time.Second},
			QueueSize: 16,
		},
		Automation: AutomationConfig{Period: Duration{time.Second}},
		Storage:    StorageConfig{Path: "raffle.db"},
		Simulation: SimulationConfig{Participants: 4, Rounds: 1},
	}
}

// LoadConfig reads and validates the TOML file at path.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		log.Errorf("Cannot decode config file %s: %v", path, err)
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warnf("Unknown keys in %s: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(doc string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(doc, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the values can run a raffle.
func (c *Config) Validate() error {
	if c.EntranceFee == 0 {
		return xerrors.New("EntranceFee must be positive")
	}
	if c.Interval.Duration <= 0 {
		return xerrors.New("Interval must be positive")
	}
	if c.Oracle.Nodes < 1 || c.Oracle.Threshold < 1 || c.Oracle.Threshold > c.Oracle.Nodes {
		return xerrors.Errorf("invalid oracle threshold %d of %d nodes",
			c.Oracle.Threshold, c.Oracle.Nodes)
	}
	if c.Oracle.Delay.Duration < 0 {
		return xerrors.New("Oracle.Delay cannot be negative")
	}
	if c.Automation.Period.Duration <= 0 {
		return xerrors.New("Automation.Period must be positive")
	}
	if c.Simulation.Participants < 0 || c.Simulation.Rounds < 0 {
		return xerrors.New("Simulation values cannot be negative")
	}
	return nil
}

// EasyrandConfig converts the oracle section.
func (c *Config) EasyrandConfig() easyrand.Config {
	return easyrand.Config{
		Nodes:     c.Oracle.Nodes,
		Threshold: c.Oracle.Threshold,
		Delay:     c.Oracle.Delay.Duration,
		QueueSize: c.Oracle.QueueSize,
	}
}
