package lnmac

import (
	"fmt"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnmac/build"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/lightningnetwork/lnmac/monitoring"
	"github.com/lightningnetwork/lnmac/rpcperms"
)

// Subsystem defines the logging code for the lnmac binary itself.
const Subsystem = "LMAC"

// lmacLog is the logger of the main package. It is replaced by SetupLoggers.
var lmacLog = build.NewSubLogger(Subsystem, nil)

// Logger returns the logger of the main lnmac subsystem.
func Logger() btclog.Logger {
	return lmacLog
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	// Now that we have the proper root logger, we can replace the
	// placeholder lnmac package loggers.
	lmacLog = root.GenSubLogger(Subsystem)

	AddSubLogger(root, macaroon.Subsystem, macaroon.UseLogger)
	AddSubLogger(root, macaroons.Subsystem, macaroons.UseLogger)
	AddSubLogger(root, rpcperms.Subsystem, rpcperms.UseLogger)
	AddSubLogger(root, monitoring.Subsystem, monitoring.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := root.GenSubLogger(subsystem)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// InitLogging builds the logging backend described by cfg, wires every
// sub-logger to it and applies the configured debug levels. The returned
// rotator must be closed on shutdown.
func InitLogging(cfg *Config) (*build.SubLoggerManager,
	*build.RotatingLogWriter, error) {

	rotator := build.NewRotatingLogWriter()
	if !cfg.LogConfig.File.Disable {
		err := rotator.InitLogRotator(cfg.LogConfig.File, cfg.LogFile())
		if err != nil {
			return nil, nil, fmt.Errorf("log rotation setup "+
				"failed: %w", err)
		}
	}

	handler := build.NewDefaultHandler(cfg.LogConfig, rotator)
	root := build.NewSubLoggerManagerWithHandler(handler)
	SetupLoggers(root)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		return root, rotator, nil
	}

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		_ = rotator.Close()
		return nil, nil, err
	}

	return root, rotator, nil
}
