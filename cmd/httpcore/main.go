// Httpcore serves and exercises the HTTP/1.1 core: an incremental parser,
// a framing-preserving serializer, a tree router and the keep-alive
// connection loop that ties them to a socket.
//
// Usage:
//
//	httpcore serve [flags]
//	httpcore routes
//	httpcore get URL
//	httpcore discover
//	httpcore version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "httpcore",
	Short: "HTTP/1.1 server and client core",
	Long: `httpcore runs a small demo application on top of its own HTTP/1.1 stack
and provides client tools that use the same parser and serializer.`,
	Version:       version.Get().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, or the default path when unset.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// initLogging applies --log-level over fallback.
func initLogging(fallback string) error {
	lvl := logLevel
	if lvl == "" {
		lvl = fallback
	}
	if err := logging.Initialize(lvl); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "httpcore %s\n", version.Full())
	},
}
