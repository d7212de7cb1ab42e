package onchaind

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
)

// log is the package-wide logger used by the on-chain resolution engine.
var log btclog.Logger

func init() {
	UseLogger(build.NewSubLogger("ONCD", nil))
}

// DefaultLoggerBackend constructs the logger this command uses when run
// standalone: everything goes to stderr, apart from fd 0, which carries the
// wire protocol to and from the parent process.
func DefaultLoggerBackend() btclog.Logger {
	logger := btclog.NewBackend(os.Stderr).Logger("ONCD")
	logger.SetLevel(btclog.LevelInfo)
	return logger
}

// DisableLog disables all package log output. Logging output is disabled
// by default until UseLogger is called with a real backend.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
