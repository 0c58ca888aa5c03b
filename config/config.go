// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2019 The Spacemesh developers

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/endgame/accumulator/rs"
	"github.com/spacemeshos/endgame/consensus"
)

const (
	defaultConfigFilename = "endgame.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "endgame.log"
	defaultMaxLogAge      = 28
	defaultMaxLogFileSize = 10

	defaultBlocks    = 20
	defaultStateSize = 8
	defaultFoldEvery = 4
)

var (
	defaultHomeDir    = appDataDir("endgame")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

var ErrInvalidConfig = errors.New("invalid config")

//nolint:lll
type SimulationConfig struct {
	Blocks    int    `long:"blocks"     description:"Number of blocks in the longer of the two simulated chains"`
	StateSize int    `long:"state-size" description:"Number of field elements accumulated per block"`
	FoldEvery int    `long:"fold-every" description:"Fold the previous block's accumulator into every n-th block (0 disables folding)"`
	Archive   bool   `long:"archive"    description:"Store the chosen chain in the data directory"`
	RunID     string `long:"run-id"     description:"Identifier of the simulation run (random when empty)"`
}

func (c *SimulationConfig) Validate() error {
	switch {
	case c.Blocks < 1:
		return fmt.Errorf("%w: blocks must be positive", ErrInvalidConfig)
	case c.StateSize < 1:
		return fmt.Errorf("%w: state size must be positive", ErrInvalidConfig)
	case c.FoldEvery < 0:
		return fmt.Errorf("%w: fold-every must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Config defines the configuration options for the simulator.
//
//nolint:lll
type Config struct {
	HomeDir        string `long:"homedir"        description:"The base directory that contains data, logs, configuration file, etc."`
	ConfigFile     string `short:"c" long:"configfile" description:"Path to configuration file"`
	DataDir        string `short:"b" long:"datadir"    description:"The directory to store the block archive within"`
	LogDir         string `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool   `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool   `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogAge      int    `long:"maxlogage"      description:"Maximum number of days to keep rotated logfiles (0 keeps all)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	MetricsListen string `long:"metrics"    description:"Serve Prometheus metrics on the given address (disabled when empty)"`
	CPUProfile    string `long:"cpuprofile" description:"Write CPU profile to the specified file"`

	Accumulator *rs.Config        `group:"Accumulator"`
	Consensus   *consensus.Config `group:"Consensus"`
	Simulation  *SimulationConfig `group:"Simulation"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	acc := rs.DefaultConfig()
	cons := consensus.DefaultConfig()
	return &Config{
		HomeDir:        defaultHomeDir,
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		MaxLogAge:      defaultMaxLogAge,
		MaxLogFileSize: defaultMaxLogFileSize,
		Accumulator:    &acc,
		Consensus:      &cons,
		Simulation: &SimulationConfig{
			Blocks:    defaultBlocks,
			StateSize: defaultStateSize,
			FoldEvery: defaultFoldEvery,
		},
	}
}

// LogFile is the path of the rotated log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// Validate checks every group.
func (c *Config) Validate() error {
	if err := c.Accumulator.Validate(); err != nil {
		return err
	}
	if err := c.Consensus.Validate(); err != nil {
		return err
	}
	if c.Simulation.StateSize > c.Accumulator.DomainSize {
		return fmt.Errorf("%w: state size %d exceeds domain size %d",
			ErrInvalidConfig, c.Simulation.StateSize, c.Accumulator.DomainSize)
	}
	return c.Simulation.Validate()
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("homedir", c.HomeDir)
	enc.AddString("datadir", c.DataDir)
	enc.AddString("logdir", c.LogDir)
	if err := enc.AddObject("accumulator", c.Accumulator); err != nil {
		return err
	}
	enc.AddUint64("window_size", c.Consensus.WindowSize)
	enc.AddDuration("slot_duration", c.Consensus.SlotDuration)
	enc.AddInt("blocks", c.Simulation.Blocks)
	enc.AddInt("state_size", c.Simulation.StateSize)
	enc.AddInt("fold_every", c.Simulation.FoldEvery)
	return nil
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads values from a conf file. A missing file is not an
// error; it is reported to logger.
func ReadConfigFile(preCfg *Config, logger *zap.Logger) (*Config, error) {
	preCfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.HomeDir != defaultHomeDir && preCfg.ConfigFile == defaultConfigFile {
		preCfg.ConfigFile = filepath.Join(preCfg.HomeDir, defaultConfigFilename)
	}

	cfg := preCfg
	if err := flags.IniParse(preCfg.ConfigFile, cfg); err != nil {
		// Parsing errors are fatal. Otherwise the file is most likely missing.
		var iniError *flags.IniError
		if errors.As(err, &iniError) {
			return nil, err
		}
		logger.Warn("not using config file", zap.String("path", preCfg.ConfigFile), zap.Error(err))
	}
	return cfg, nil
}

// SetupConfig creates the home directory and expands every path.
func SetupConfig(cfg *Config) (*Config, error) {
	if cfg.HomeDir != defaultHomeDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		var pathError *fs.PathError
		if errors.As(err, &pathError) && os.IsExist(err) {
			if link, lerr := os.Readlink(pathError.Path); lerr == nil {
				err = fmt.Errorf("is symlink %s -> %s mounted?", pathError.Path, link)
			}
		}
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	return cfg, cfg.Validate()
}

// appDataDir is the per-user directory for an application, ~/.name on
// unix-like systems.
func appDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + name
	}
	return filepath.Join(home, "."+name)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
