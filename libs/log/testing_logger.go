package log

import (
	"os"
	"testing"
)

// TestingLogger returns a Logger which writes to STDOUT if test(s) are being
// run with the verbose (-v) flag, NopLogger otherwise.
//
// NOTE:
// - A call to NewTestingLogger() must be made inside a test (not in the init func)
// because verbose flag only set at the time of testing.
func TestingLogger() Logger {
	if testing.Verbose() {
		return MustNewTestingLogger(LogLevelDebug)
	}

	return NewNopLogger()
}

// MustNewTestingLogger writes JSON output at level to STDOUT
// regardless of the verbose flag.
func MustNewTestingLogger(level string) Logger {
	logger, err := NewLogger(level, os.Stdout)
	if err != nil {
		panic(err)
	}
	return logger
}
