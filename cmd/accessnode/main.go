// Command accessnode runs an access-control device on a Linux host.
//
// It brings up the network link, keeps a websocket session to the portal,
// answers portal commands, reports card swipes and installs firmware
// updates into A/B slots below the data directory.
//
// Usage:
//
//	accessnode [flags]
//
// Flags:
//
//	-data-dir string    State directory (default "/var/lib/accessnode")
//	-config string      YAML file overlaid on the stored configuration
//	-iface string       Network interface that carries the link (default "wlan0")
//	-log-level string   Log level: verbose, debug, info, warn, error (default from config)
//	-capture string     Write a CBOR protocol capture to this file
//	-interactive        Start the maintenance console
//
// A process that exits with status 75 asks its supervisor to start it
// again, after a firmware update or a rollback.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/accessnode/accessnode-go/cmd/accessnode/interactive"
	"github.com/accessnode/accessnode-go/pkg/config"
)

// version is the firmware version, set at build time with
// -ldflags "-X main.version=1.2.3".
var version = "0.0.0-dev"

var opts options

func init() {
	flag.StringVar(&opts.DataDir, "data-dir", "/var/lib/accessnode", "State directory")
	flag.StringVar(&opts.ConfigFile, "config", "", "YAML file overlaid on the stored configuration")
	flag.StringVar(&opts.Interface, "iface", "wlan0", "Network interface that carries the link")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: verbose, debug, info, warn, error")
	flag.StringVar(&opts.CapturePath, "capture", "", "Write a CBOR protocol capture to this file")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the maintenance console")
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	var console *interactive.Console
	var out io.Writer = os.Stderr
	if opts.Interactive {
		c, err := interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "console: %v\n", err)
			return 1
		}
		console = c
		out = c.Stdout()
	}

	level, err := config.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	logger, atom, sync := newLogger(out, level)
	defer func() { _ = sync() }()

	logger.Info("accessnode starting", "version", version, "data_dir", opts.DataDir)

	a, err := newApp(opts, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		if console != nil {
			console.Close()
		}
		return 1
	}

	if opts.LogLevel == "" {
		// The stored configuration decides when the flag is absent.
		if l, err := config.ParseLevel(a.Config().Dev.LogLevel); err == nil {
			atom.SetLevel(zapLevel(l))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		logger.Error("start failed", "error", err)
		a.stop()
		return 1
	}

	if console != nil {
		go console.Run(ctx, cancel, a)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	a.stop()
	return 0
}
