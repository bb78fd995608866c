// Package main is the entry point of BootBridge, a serial console that hands a boot
// payload to the remote bootloader whenever it asks for one.
//
//	bootbridge [flags] <device-path> [payload-path]
//
// Type at the console as usual. When the device sends three consecutive 0x03 bytes the
// payload file is uploaded, and the console resumes afterwards.
package main

import (
	"BootBridge/internal/core"
	"BootBridge/internal/device"
	"BootBridge/internal/model"
	"BootBridge/internal/store"
	"BootBridge/internal/util"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code.
func run(argv []string) int {
	fs := pflag.NewFlagSet("bootbridge", pflag.ContinueOnError)
	core.RegisterFlags(fs)
	listPorts := fs.Bool("list-ports", false, "list serial ports and exit")
	showHistory := fs.Bool("show-history", false, "print the recorded uploads and exit")
	printConfig := fs.Bool("print-config", false, "print the effective configuration and exit")
	fs.Usage = func() { usage(os.Stderr, fs) }

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() > 2 {
		usage(os.Stderr, fs)
		return 1
	}

	cfg, err := core.LoadConfig(fs, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootbridge: %v\n", err)
		return 1
	}
	logger, err := util.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootbridge: %v\n", err)
		return 1
	}
	util.SetDefault(logger)
	defer func() {
		_ = logger.Sync()
	}()

	switch {
	case *printConfig:
		if err := core.DumpConfig(os.Stdout, cfg); err != nil {
			util.Error("print config: %v", err)
			return 1
		}
		return 0
	case *listPorts:
		return printPorts(os.Stdout)
	case *showHistory:
		return printHistory(os.Stdout, cfg.History)
	}

	if cfg.Device == "" {
		usage(os.Stderr, fs)
		return 1
	}
	return bridge(cfg, logger)
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: bootbridge [flags] <device-path> [payload-path]\n\n")
	fmt.Fprint(w, fs.FlagUsages())
}

func bridge(cfg *model.Config, logger *zap.Logger) int {
	guard, err := device.AcquireRawMode(int(os.Stdin.Fd()))
	if err != nil {
		util.Error("terminal: %v", err)
		return 1
	}
	defer func() {
		_ = guard.Release()
	}()

	// the bridge blocks in select; a signal restores the terminal and leaves directly
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigs
		_ = guard.Release()
		logger.Info("terminated", zap.Stringer("signal", sig))
		_ = logger.Sync()
		os.Exit(1)
	}()

	sys, err := core.NewSystem(cfg, os.Stdin, os.Stdout, os.Stderr, logger)
	if err != nil {
		util.Error("%v", err)
		return 1
	}
	if err := sys.StartAll(); err != nil {
		util.Error("failed to start: %v", err)
		return 1
	}
	defer sys.StopAll()

	if err := sys.Run(context.Background()); err != nil {
		util.Error("%v", err)
		return 1
	}
	return 0
}

func printPorts(w io.Writer) int {
	ports, err := device.ListPorts()
	if err != nil {
		util.Error("list ports: %v", err)
		return 1
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return 0
}

func printHistory(w io.Writer, cfg model.HistoryConfig) int {
	if cfg.Path == "" {
		util.Error("no history database configured, use --history")
		return 1
	}
	h, err := store.OpenHistory(cfg.Path, 0)
	if err != nil {
		util.Error("%v", err)
		return 1
	}
	defer func() {
		_ = h.Close()
	}()
	recs, err := h.List(cfg.Limit)
	if err != nil {
		util.Error("%v", err)
		return 1
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %-8s %s -> %s  %d/%d bytes",
			r.Time.Local().Format(time.DateTime), r.State, r.Payload, r.Device, r.Sent, r.Size)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	return 0
}
