// Command tacrrc is the process boundary of spec §6.5: a single
// executable that optionally takes a node ID as its first positional
// argument (default 1), wires up the Gateway, and runs until SIGINT or
// SIGTERM.
//
// The flag/signal/context shape follows the teacher's
// cmd/ysf2dmr/main.go mainOriginal: pflag for CLI parsing, a
// cancel-on-signal goroutine, and a non-zero exit code on init failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dbehnke/tacrrc/internal/audit"
	"github.com/dbehnke/tacrrc/internal/config"
	"github.com/dbehnke/tacrrc/internal/rrc"
)

const version = "0.1.0"

var (
	header1 = "Tactical RRC node — routing, slot, and priority-queue"
	header2 = "middle layer for a single radio. For research and"
	header3 = "simulation use only."
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile = pflag.StringP("config", "c", "", "Path to YAML configuration file (defaults built in if omitted)")
		nodeFlag   = pflag.Uint8P("node", "n", 0, "Node ID (overrides config and positional argument)")
		showVer    = pflag.BoolP("version", "V", false, "Show version information")
		dumpConfig = pflag.Bool("dump-config", false, "Load and validate the configuration, print it, and exit without starting the gateway")
	)
	pflag.Parse()

	if *showVer {
		fmt.Printf("tacrrc v%s\n", version)
		fmt.Println(header1)
		fmt.Println(header2)
		fmt.Println(header3)
		return 0
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tacrrc: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Positional argument: node ID, defaulting to 1 per spec §6.5.
	if pflag.NArg() > 0 {
		var id uint8
		if _, err := fmt.Sscanf(pflag.Arg(0), "%d", &id); err != nil {
			fmt.Fprintf(os.Stderr, "tacrrc: invalid node id %q\n", pflag.Arg(0))
			return 1
		}
		cfg.Node.ID = id
	}
	if *nodeFlag != 0 {
		cfg.Node.ID = *nodeFlag
	}
	if cfg.Node.ID == 0 {
		cfg.Node.ID = 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tacrrc: invalid configuration: %v\n", err)
		return 1
	}

	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tacrrc: marshal configuration: %v\n", err)
			return 1
		}
		fmt.Print(string(out))
		return 0
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	logger.Info("tacrrc starting", "version", version, "node", cfg.Node.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec *audit.Recorder
	if cfg.Audit.Enabled {
		r, err := audit.NewRecorder(ctx, audit.Config{Path: cfg.Audit.Path}, logger)
		if err != nil {
			logger.Error("audit init failed", "err", err)
			return 1
		}
		defer r.Close()
		rec = r
	}

	gw := rrc.New(cfg, logger, rec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		gw.Stop()
	}()

	if err := gw.Run(ctx); err != nil {
		logger.Error("gateway run failed", "err", err)
		return 1
	}
	return 0
}
