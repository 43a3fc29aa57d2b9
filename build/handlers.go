package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
)

// NewDefaultHandler returns the handler that writes to the console and the
// rotating log file, skipping any output that the config disables. Line
// formatting follows the console options, or the file options if the console
// is disabled.
func NewDefaultHandler(cfg *LogConfig,
	rotator *RotatingLogWriter) btclog.Handler {

	var (
		writers []io.Writer
		opts    []btclog.HandlerOption
	)
	if !cfg.File.Disable && rotator != nil {
		writers = append(writers, rotator)
		opts = cfg.File.HandlerOptions()
	}
	if !cfg.Console.Disable {
		writers = append(writers, os.Stdout)
		opts = cfg.Console.HandlerOptions()
	}

	return btclog.NewDefaultHandler(io.MultiWriter(writers...), opts...)
}

// NewWriterHandler returns a single handler writing to w. It is mostly useful
// for tests that want to capture log output.
func NewWriterHandler(w io.Writer) btclog.Handler {
	return btclog.NewDefaultHandler(w, btclog.WithNoTimestamp())
}
