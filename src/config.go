package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Configuration of the transmit path.
 *
 * Description:	Everything here is policy.  The traffic class to access
 *		category table and the eviction deadlines in particular are
 *		tuning knobs, not something the code tries to derive.
 *
 *		The file is YAML.  Anything missing keeps the default.
 *
 *---------------------------------------------------------------*/

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, logfmt
	Prefix string `yaml:"prefix"`
}

type DispatchConfig struct {
	Capacity    int           `yaml:"capacity"`
	SendTimeout time.Duration `yaml:"send_timeout"` // Budget for the bounded-wait send.
	PinCPU      int           `yaml:"pin_cpu"`      // -1 leaves the worker thread unpinned.
}

type PoolConfig struct {
	Buffers      int `yaml:"buffers"`
	LowWatermark int `yaml:"low_watermark"` // Refuse new transmit requests below this many free buffers.
}

type TxQueueConfig struct {
	InitialCredits int `yaml:"initial_credits"`
	MaxQueued      int `yaml:"max_queued"`       // With no credit, refuse beyond this many queued.
	RetryDropBelow int `yaml:"retry_drop_below"` // Credit deltas below this tear down a block-ack session.
	MaxRetries     int `yaml:"max_retries"`
}

type ACConfig struct {
	TID        [NumTIDs]AC `yaml:"tid"`
	BCMC       AC          `yaml:"bcmc"`
	Unknown    AC          `yaml:"unknown"`
	OffChannel AC          `yaml:"offchannel"`
}

type CleanupConfig struct {
	Interval         time.Duration `yaml:"interval"`
	APBeaconMultiple int           `yaml:"ap_beacon_multiple"`
	StationDeadline  time.Duration `yaml:"station_deadline"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Pool     PoolConfig     `yaml:"pool"`
	TxQueue  TxQueueConfig  `yaml:"txqueue"`
	AC       ACConfig       `yaml:"ac"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
}

// DefaultConfig returns the values used when nothing else is said.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Prefix: "wlantx",
		},
		Dispatch: DispatchConfig{
			Capacity:    64,
			SendTimeout: time.Second,
			PinCPU:      -1,
		},
		Pool: PoolConfig{
			Buffers:      1024,
			LowWatermark: 8,
		},
		TxQueue: TxQueueConfig{
			InitialCredits: 4,
			MaxQueued:      512,
			RetryDropBelow: 0,
			MaxRetries:     4,
		},
		AC: ACConfig{
			// 802.1D user priority to access category.
			TID:        [NumTIDs]AC{ACBE, ACBK, ACBK, ACBE, ACVI, ACVI, ACVO, ACVO, ACVO},
			BCMC:       ACBE,
			Unknown:    ACVO,
			OffChannel: ACVO,
		},
		Cleanup: CleanupConfig{
			Interval:         500 * time.Millisecond,
			APBeaconMultiple: 10,
			StationDeadline:  2 * time.Second,
		},
	}
}

// ParseConfig reads YAML on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg = DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML file.  An empty path gives the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate rejects values the transmit path cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Dispatch.Capacity < 1:
		return errors.Errorf("dispatch.capacity must be at least 1, got %d", c.Dispatch.Capacity)
	case c.Dispatch.SendTimeout < 0:
		return errors.Errorf("dispatch.send_timeout must not be negative, got %v", c.Dispatch.SendTimeout)
	case c.Pool.Buffers < 1:
		return errors.Errorf("pool.buffers must be at least 1, got %d", c.Pool.Buffers)
	case c.Pool.LowWatermark < 0 || c.Pool.LowWatermark >= c.Pool.Buffers:
		return errors.Errorf("pool.low_watermark must be in [0, %d), got %d", c.Pool.Buffers, c.Pool.LowWatermark)
	case c.TxQueue.InitialCredits < 1:
		return errors.Errorf("txqueue.initial_credits must be at least 1, got %d", c.TxQueue.InitialCredits)
	case c.TxQueue.MaxQueued < 1:
		return errors.Errorf("txqueue.max_queued must be at least 1, got %d", c.TxQueue.MaxQueued)
	case c.TxQueue.MaxRetries < 0:
		return errors.Errorf("txqueue.max_retries must not be negative, got %d", c.TxQueue.MaxRetries)
	case c.Cleanup.Interval <= 0:
		return errors.Errorf("cleanup.interval must be positive, got %v", c.Cleanup.Interval)
	case c.Cleanup.APBeaconMultiple < 1:
		return errors.Errorf("cleanup.ap_beacon_multiple must be at least 1, got %d", c.Cleanup.APBeaconMultiple)
	case c.Cleanup.StationDeadline <= 0:
		return errors.Errorf("cleanup.station_deadline must be positive, got %v", c.Cleanup.StationDeadline)
	}

	for tid, ac := range c.AC.TID {
		if ac >= NumACs {
			return errors.Errorf("ac.tid[%d] out of range", tid)
		}
	}
	for _, ac := range []AC{c.AC.BCMC, c.AC.Unknown, c.AC.OffChannel} {
		if ac >= NumACs {
			return errors.Errorf("access category %d out of range", ac)
		}
	}

	return nil
}

// ACForTID maps a traffic class to its hardware queue.
func (c *Config) ACForTID(tid TID) AC {
	Assert(tid.Valid())
	return c.AC.TID[tid]
}
