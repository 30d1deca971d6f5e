package sys

import (
	"time"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the content of raffle.toml.
type Config struct {
	EntranceFee uint64
	Interval    Duration
	Oracle      OracleConfig
	Automation  AutomationConfig
	Storage     StorageConfig
	Simulation  SimulationConfig
}

// OracleConfig sets up the local randomness beacon.
type OracleConfig struct {
	Nodes     int
	Threshold int
	Delay     Duration
	QueueSize int
}

// AutomationConfig sets how often the keeper polls.
type AutomationConfig struct {
	Period Duration
}

type StorageConfig struct {
	Path string
}

// SimulationConfig drives the local simulation of the CLI.
type SimulationConfig struct {
	Participants int
	Rounds       int
}
