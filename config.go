package lnmac

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnmac/build"
	"github.com/lightningnetwork/lnmac/monitoring"
)

const (
	defaultConfigFilename = "lnmac.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "lnmac.log"
	defaultRootKeyDBName  = "rootkeys.db"
	defaultLogLevel       = "info"
	defaultRPCListen      = "localhost:10019"
)

var (
	// DefaultLnmacDir is the default directory where lnmac keeps its
	// data, logs and config file.
	DefaultLnmacDir = btcutil.AppDataDir("lnmac", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultLnmacDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultLnmacDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultLnmacDir, defaultLogDirname)
)

// Config defines the configuration options for lnmac.
//
// See LoadConfig for further details regarding the configuration loading and
// parsing process.
//
//nolint:ll
type Config struct {
	LnmacDir   string `long:"lnmacdir" description:"The base directory that contains lnmac's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store lnmac's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Location string `long:"location" description:"The location hint written into newly baked tokens"`

	RPCListen   string `long:"rpclisten" description:"Add an interface/port/socket to listen for RPC connections"`
	NoMacaroons bool   `long:"no-macaroons" description:"Disable token authentication, can only be used if server is not listening on a public interface."`

	BoltTimeout time.Duration `long:"bolt-timeout" description:"The time to wait for the root key database to be opened, 0 means wait forever."`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	Prometheus monitoring.Config `group:"prometheus" namespace:"prometheus"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		LnmacDir:    DefaultLnmacDir,
		ConfigFile:  DefaultConfigFile,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		RPCListen:   defaultRPCListen,
		BoltTimeout: kvdb.DefaultDBTimeout,
		LogConfig:   build.DefaultLogConfig(),
		Prometheus:  monitoring.DefaultConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// given command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their lnmacdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.LnmacDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultLnmacDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	parser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration
	// is done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		lmacLog.Debugf("Unable to read config file %v: %v",
			configFilePath, configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized and the data and log directories are created. The
// cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided lnmac directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	lnmacDir := CleanAndExpandPath(cfg.LnmacDir)
	if lnmacDir != DefaultLnmacDir {
		cfg.DataDir = filepath.Join(lnmacDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(lnmacDir, defaultLogDirname)
	}

	cfg.LnmacDir = lnmacDir
	cfg.ConfigFile = CleanAndExpandPath(cfg.ConfigFile)
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	if cfg.BoltTimeout < 0 {
		return nil, fmt.Errorf("bolt-timeout must not be negative, "+
			"got %v", cfg.BoltTimeout)
	}

	if cfg.LogConfig == nil {
		return nil, errors.New("missing logging config")
	}
	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, err
	}

	if cfg.Prometheus.Enabled() && cfg.Prometheus.Listen == "" {
		return nil, errors.New("prometheus exporter enabled without " +
			"a listen address")
	}

	if cfg.RPCListen == "" {
		return nil, errors.New("rpclisten must be set")
	}

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := makeDirectory(dir); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// RootKeyDBPath returns the path of the bolt database holding the root keys.
func (c *Config) RootKeyDBPath() string {
	return filepath.Join(c.DataDir, defaultRootKeyDBName)
}

// LogFile returns the path of the main log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// makeDirectory creates dir and all of its parents.
func makeDirectory(dir string) error {
	err := os.MkdirAll(dir, 0700)
	if err == nil {
		return nil
	}

	// Show a nicer error message if it's because a symlink is linked to
	// a directory that does not exist (probably because it's not
	// mounted).
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && os.IsExist(err) {
		link, lerr := os.Readlink(pathErr.Path)
		if lerr == nil {
			err = fmt.Errorf("is symlink %s -> %s mounted?",
				pathErr.Path, link)
		}
	}

	return fmt.Errorf("failed to create lnmac directory: %w", err)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
