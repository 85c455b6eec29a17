// Program rpatchur fetches and applies THOR patches against a game client's
// GRF archives or its plain data directory.
//
// Example usage:
//
//	rpatchur -config myserver-patcher.yml
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/l1nkz/rpatchur"
	"github.com/l1nkz/rpatchur/internal/patcher"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the patcher's YAML configuration file")
	cachePath := flag.String("cache", "", "path to the patcher's cache file (defaults next to -config, same base name, .dat extension)")
	flag.Parse()

	if *cachePath == "" {
		*cachePath = strings.TrimSuffix(*configPath, filepath.Ext(*configPath)) + ".dat"
	}

	config, err := patcher.LoadConfiguration(*configPath)
	if err != nil {
		fatalf("loading configuration: %v", err)
	}

	ctx, cancel := rpatchur.InterruptibleContext()
	defer cancel()
	rpatchur.RegisterAtExit(func() error {
		cancel()
		return nil
	})

	cmds := make(chan patcher.Command, 1)
	cmds <- patcher.CommandStart
	close(cmds)

	runner := patcher.NewRunner(*config, &cliSink{}, *cachePath)
	if err := runner.Run(ctx, cmds); err != nil {
		fatalf("patching failed: %v", err)
	}
	log.Print("patching finished")
}

func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "patcher.yml"
	}
	return strings.TrimSuffix(exe, filepath.Ext(exe)) + ".yml"
}

// fatalf logs msg, runs any registered at-exit cleanup (log.Fatal itself
// would skip every deferred call by exiting the process directly), then
// exits with status 1.
func fatalf(format string, args ...interface{}) {
	log.Printf(format, args...)
	if err := rpatchur.RunAtExit(); err != nil {
		log.Printf("at-exit cleanup: %v", err)
	}
	os.Exit(1)
}
