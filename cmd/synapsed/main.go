package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/internal/config"
	"github.com/busybox42/synapse/internal/daemon"
	"github.com/busybox42/synapse/pkg/overlay"
)

var log = logrus.New()

func initLogger(level logrus.Level) {
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(level)
}

type flags struct {
	configPath string
	listen     string
	address    string
	transport  string
	tor        bool
	logLevel   string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("synapsed", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to synapse.toml")
	fs.StringVar(&f.listen, "listen", "", "Listen address (overrides node.listen)")
	fs.StringVar(&f.address, "address", "", "Advertised address (overrides node.address)")
	fs.StringVar(&f.transport, "transport", "", "Transport: tcp or quic (overrides transport.kind)")
	fs.BoolVar(&f.tor, "tor", false, "Publish the node as a Tor onion service")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (overrides log.level)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig reads the config file and applies flag overrides on top.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.listen != "" {
		cfg.Node.Listen = f.listen
	}
	if f.address != "" {
		cfg.Node.Address = f.address
	}
	if f.transport != "" {
		cfg.Transport.Kind = f.transport
	}
	if f.tor {
		cfg.Transport.Tor = true
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}

func logResults(results <-chan overlay.Result) {
	for r := range results {
		entry := log.WithFields(logrus.Fields{
			"tag":    r.Tag,
			"op":     r.Op,
			"key":    r.Key,
			"holder": r.Holder,
		})
		if r.Found {
			entry.Infof("Resolved: %s", r.Value)
		} else {
			entry.Info("Resolved: not found")
		}
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	initLogger(cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		d.Shutdown()
		log.Fatalf("Failed to start node: %v", err)
	}
	go logResults(d.Server().Results())

	log.Infof("Synapse node %s running (transport: %s)", d.Address(), cfg.Transport.Kind)
	<-ctx.Done()

	log.Info("Shutting down...")
	d.Shutdown()
}
