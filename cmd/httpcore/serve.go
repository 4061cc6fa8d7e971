package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/metrics"
	"github.com/muurk/httpcore/internal/server"
	"github.com/muurk/httpcore/internal/ui"
)

var (
	serveHost       string
	servePort       int
	serveCert       string
	serveKey        string
	serveSelfSigned bool
	serveMDNS       bool
	serveWatch      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo HTTP server",
	Long: `Start the demo application: users, echo, streaming, websocket echo and
Prometheus metrics, served by the httpcore connection loop.

Flags override values from the config file. With --watch the config file is
reloaded on change and a new logging.level takes effect immediately.`,
	Example: `  # Plain HTTP on port 8080
  httpcore serve

  # TLS with a throwaway certificate, debug logging
  httpcore serve --port 8443 --self-signed --log-level debug

  # Existing certificate, announced over mDNS
  httpcore serve --cert fullchain.pem --key privkey.pem --mdns`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveHost, "host", "", "Listen host (empty = all interfaces)")
	f.IntVar(&servePort, "port", 8080, "Listen port")
	f.StringVar(&serveCert, "cert", "", "Path to TLS certificate file")
	f.StringVar(&serveKey, "key", "", "Path to TLS private key file")
	f.BoolVar(&serveSelfSigned, "self-signed", false, "Serve TLS with a generated in-memory certificate")
	f.BoolVar(&serveMDNS, "mdns", false, "Announce the server over mDNS")
	f.BoolVar(&serveWatch, "watch", false, "Reload the config file on change")
}

// applyServeFlags copies explicitly set flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if f.Changed("port") {
		cfg.Server.Port = servePort
	}
	if f.Changed("cert") || f.Changed("key") {
		cfg.Server.TLS.Cert, cfg.Server.TLS.Key = serveCert, serveKey
	}
	if f.Changed("self-signed") {
		cfg.Server.TLS.SelfSigned = serveSelfSigned
	}
	if f.Changed("mdns") {
		cfg.MDNS.Enabled = serveMDNS
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := initLogging(cfg.Logging.Level); err != nil {
		return err
	}
	defer logging.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	app := newApp(cfg, reg)
	srv, err := server.New(cfg, app, server.WithObserver(m))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	details := []ui.Detail{{Key: "TLS", Value: tlsMode(cfg)}}
	if cfg.Metrics.Enabled {
		details = append(details, ui.Detail{Key: "Metrics", Value: cfg.Metrics.Path})
	}
	if cfg.MDNS.Enabled {
		details = append(details, ui.Detail{Key: "mDNS", Value: cfg.MDNS.Instance})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Banner(cfg.Addr(), details...))
	fmt.Fprint(out, ui.RouteTable(app.Routes()))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if serveWatch {
		go func() {
			err := config.Watch(ctx, path, func(c *config.Config) {
				if err := logging.SetLevel(c.Logging.Level); err != nil {
					logging.Warn("Ignoring log level from config", zap.Error(err))
					return
				}
				logging.Info("Log level changed", zap.String("level", logging.Level()))
			})
			if err != nil {
				logging.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	return srv.Start(ctx)
}

func tlsMode(cfg *config.Config) string {
	t := cfg.Server.TLS
	switch {
	case t.SelfSigned:
		return "self-signed"
	case t.Enabled():
		return t.Cert
	default:
		return "off"
	}
}
