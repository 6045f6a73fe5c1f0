// Command acemonitor hosts the software model of the M-mode security
// monitor (SPEC_FULL.md §0): it loads a boot descriptor, fixes the memory
// layout and PMP controller, initializes the control-data directory, and,
// with -interactive, drives a debug console the way cmd/cc hosts
// rv64.Machine under a raw-mode terminal. It does not build a dispatch loop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/arch"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/config"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/memlayout"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/pagealloc"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/pmp"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/policy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("acemonitor: fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	bootPath := flag.String("boot", "", "path to the boot descriptor YAML (defaults to config.Default())")
	interactive := flag.Bool("interactive", false, "start the raw-mode debug console instead of exiting after boot")
	flag.Parse()

	boot := config.Default()
	if *bootPath != "" {
		var err error
		boot, err = config.Load(*bootPath)
		if err != nil {
			return fmt.Errorf("load boot descriptor: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(boot.LogLevel)}))
	slog.SetDefault(logger)

	layout, err := bootMonitor(boot, logger)
	if err != nil {
		return err
	}
	defer layout.Close()

	if *interactive {
		return runDebugConsole(logger)
	}
	return nil
}

// bootMonitor performs the one-time singleton initialization sequence:
// memory layout, page allocator population, PMP controller, control-data
// directory. A failure here is the boot-time analogue of spec.md §4.8's
// fatal halt, logged once and returned to main for a non-zero exit.
func bootMonitor(boot config.Boot, logger *slog.Logger) (*memlayout.Layout, error) {
	layout, err := memlayout.Init(
		boot.Memory.NonConfidentialStart, boot.Memory.NonConfidentialEnd,
		boot.Memory.ConfidentialStart, boot.Memory.ConfidentialEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("memlayout.Init: %w", err)
	}
	logger.Info("memory layout fixed",
		slog.Uint64("conf_start", boot.Memory.ConfidentialStart),
		slog.Uint64("conf_end", boot.Memory.ConfidentialEnd))

	alloc := pagealloc.New(boot.Memory.ConfidentialStart)
	bar := progressbar.Default(-1, "populating confidential memory")
	if err := alloc.Populate(boot.Memory.ConfidentialStart, boot.Memory.ConfidentialEnd); err != nil {
		bar.Finish()
		return nil, fmt.Errorf("pagealloc.Populate: %w", err)
	}
	bar.Finish()

	hwCap := arch.Probe()
	numPMPEntries := boot.NumPMPEntries
	if numPMPEntries == 0 {
		numPMPEntries = hwCap.NumPMPEntries
	}
	if _, err := pmp.New(numPMPEntries, boot.Memory.ConfidentialStart, boot.Memory.ConfidentialEnd, arch.New()); err != nil {
		return nil, fmt.Errorf("pmp.New: %w", err)
	}

	if _, err := control.Init(); err != nil {
		return nil, fmt.Errorf("control.Init: %w", err)
	}
	logger.Info("singleton initialization complete", slog.Int("pmp_entries", numPMPEntries))

	if _, err := installPolicy(boot); err != nil {
		return nil, err
	}

	return layout, nil
}

func installPolicy(boot config.Boot) (policy.Hook, error) {
	switch boot.Policy {
	case "", "default":
		return policy.Default{}, nil
	case "deny":
		denied := make(map[uint64]bool, len(boot.DeniedExtensions))
		for _, id := range boot.DeniedExtensions {
			denied[id] = true
		}
		return policy.ExtensionDenyList{Denied: denied}, nil
	default:
		return nil, fmt.Errorf("config: unknown policy %q", boot.Policy)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runDebugConsole is the monitor's only interactive surface: single
// keystroke commands read from a raw-mode terminal, the way cmd/cc puts
// stdin into raw mode for its VM console. There is no physical hart to
// drive here (SPEC_FULL.md §0's realization note), so the console reports
// on monitor singleton state rather than guest output.
func runDebugConsole(logger *slog.Logger) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		logger.Info("stdin is not a terminal; skipping the interactive console")
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprint(os.Stdout, "acemonitor debug console — d: dump state, w: force world switch, q: quit\r\n")

	r := bufio.NewReader(os.Stdin)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil
		}
		switch b {
		case 'q':
			return nil
		case 'd':
			dumpState(logger)
		case 'w':
			logger.Info("debug console: forced world switch requested (no hart attached)")
		}
	}
}

func dumpState(logger *slog.Logger) {
	storage, ok := control.Get()
	if !ok {
		logger.Info("control-data directory not yet initialized")
		return
	}
	logger.Info("state dump", slog.Int("confidential_vms", storage.Count()))
}
