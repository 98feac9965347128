// Command hostping runs one probe over the configured host file and prints the
// status log to the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/globals"
	"github.com/hostping/hostping/internal/hosts"
	"github.com/hostping/hostping/internal/probe"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	hostsFile := flag.String("hosts", "", "host file to probe (overrides hosts.file)")
	heartbeat := flag.Bool("heartbeat", false, "emit heartbeat messages instead of probing")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	cfg, err := globals.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = globals.Default()
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "hostping: %v\n", err)
		os.Exit(2)
	}
	if *hostsFile != "" {
		cfg.Hosts.File = *hostsFile
	}

	// Progress goes to the terminal; keep the structured log quiet unless asked.
	logCfg := cfg.Logging
	if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger := globals.InitLogger(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(cfg.Channel.Capacity)
	sub := bus.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printMessages(os.Stdout, sub)
	}()

	if *heartbeat {
		err = probe.Heartbeat(ctx, bus, cfg.Heartbeat.Interval(), cfg.Heartbeat.Count)
	} else {
		err = run(ctx, cfg, bus, logger)
	}

	_ = bus.Close()
	<-printed

	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "hostping: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *globals.Config, bus *eventbus.Bus, logger *slog.Logger) error {
	list, err := hosts.NewFileDirectory(cfg.Hosts.File).Load(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		logger.WarnContext(ctx, "Host file is empty", slog.String("path", cfg.Hosts.File))
	}

	prober := probe.NewProber(probe.Options{
		ConnectTimeout:   cfg.Probe.ConnectTimeout(),
		HandshakeTimeout: cfg.Probe.HandshakeTimeout(),
		AuthTimeout:      cfg.Probe.AuthTimeout(),
	}, logger)
	return prober.Run(ctx, list, bus)
}

// printMessages writes each message until the bus closes.
func printMessages(w io.Writer, sub *eventbus.Subscription) {
	defer sub.Close()

	ts := color.New(color.Faint)
	for {
		msg, err := sub.Recv(context.Background())
		var lagged *eventbus.LaggedError
		switch {
		case err == nil:
			ts.Fprintf(w, "%s ", msg.Timestamp)
			severityColor(msg.Type).Fprintln(w, msg.Text)
		case errors.As(err, &lagged):
			color.New(color.FgYellow).Fprintf(w, "... %d messages dropped\n", lagged.Skipped)
		default:
			return
		}
	}
}

func severityColor(s eventbus.Severity) *color.Color {
	switch s {
	case eventbus.SeveritySuccess:
		return color.New(color.FgGreen)
	case eventbus.SeverityError:
		return color.New(color.FgRed)
	case eventbus.SeverityInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}
