// Command onchaind resolves a single Lightning channel close on chain: it
// is spawned by a node's channel daemon once a channel's funding output
// has been spent, communicates over stdin (fd 0, used for both reading and
// writing) using this module's protocol package, and exits once every
// output it tracked has reached irrevocable resolution.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/Flowdalic/onchaind/onchaind"
)

// Version is stamped at build time via -ldflags.
var Version = "unknown"

type config struct {
	ShowVersion bool `long:"version" description:"display version information and exit"`
}

func main() {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Printf("onchaind version %s\n", Version)
		return
	}

	onchaind.UseLogger(onchaind.DefaultLoggerBackend())

	engine := onchaind.NewEngine()
	if err := engine.Run(os.Stdin, os.Stdin); err != nil {
		if fatal, ok := err.(*onchaind.FatalError); ok {
			fmt.Fprintf(os.Stderr, "onchaind: %s: %s\n", fatal.Kind, fatal.Err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "onchaind: %s\n", err)
		os.Exit(1)
	}
}
