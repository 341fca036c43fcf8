// usb-moded is the mode-control daemon entrypoint: it loads configuration,
// wires the bridge and history sinks, and runs the daemon's main loop until
// a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JamiKettunen/usb-moded/internal/bridge/dbusbridge"
	"github.com/JamiKettunen/usb-moded/internal/config"
	"github.com/JamiKettunen/usb-moded/internal/daemon"
	"github.com/JamiKettunen/usb-moded/internal/history"
	"github.com/JamiKettunen/usb-moded/internal/logging"
)

var version = "dev"

// bridgeDialTimeout bounds how long startup waits for the D-Bus connection
// and name request before giving up.
const bridgeDialTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file (default: "+config.ConfigPath()+")")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("usb-moded", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "usb-moded:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare state directories: %w", err)
	}

	logCfg, err := loggingConfig(cfg)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	if err := writePidFile(cfg.Daemon.PidFile); err != nil {
		log.Warn("failed to write pidfile", "path", cfg.Daemon.PidFile, "error", err)
	}
	defer os.Remove(cfg.Daemon.PidFile)

	var opts []daemon.Option

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer hist.Close()
		opts = append(opts, daemon.WithHistory(hist))
	}

	var adapter *dbusbridge.Adapter
	if cfg.Bridge.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeDialTimeout)
		adapter, err = dbusbridge.Dial(ctx, cfg.Bridge.BusName, cfg.Bridge.ObjectPath, cfg.Bridge.System, nil, log)
		cancel()
		if err != nil {
			return fmt.Errorf("dial bridge: %w", err)
		}
		defer adapter.Close()
		opts = append(opts, daemon.WithBridge(adapter, adapter))
	}

	d, err := daemon.New(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	log.Info("usb-moded starting", "version", version, "backend", d.Backend().Kind())
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon run: %w", err)
	}
	log.Info("usb-moded stopped")
	return nil
}

func loggingConfig(cfg *config.Config) (*logging.Config, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	format := logging.FormatText
	if strings.EqualFold(cfg.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress
	return lc, nil
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
