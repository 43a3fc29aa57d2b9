//go:build !stdlog && !nolog

package build

// LoggingType is a log type that writes to the handlers installed by the
// sub-logger manager, if present.
const LoggingType = LogTypeDefault
