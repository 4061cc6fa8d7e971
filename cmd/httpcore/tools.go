package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/muurk/httpcore/internal/client"
	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/discovery"
	"github.com/muurk/httpcore/internal/ui"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the demo application's routes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(config.Default(), prometheus.NewRegistry())
		fmt.Fprint(cmd.OutOrStdout(), ui.RouteTable(app.Routes()))
	},
}

var (
	getInclude bool
	getTimeout time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Fetch a URL with the httpcore client",
	Long: `Fetch a URL using the same parser and serializer the server uses.
The body is written to stdout; --include prints the status line and
headers first.`,
	Example: `  httpcore get http://localhost:8080/users/1
  httpcore get -i http://localhost:8080/stream?n=3`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().BoolVarP(&getInclude, "include", "i", false, "Print the response status line and headers")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 10*time.Second, "Request timeout")

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "Include HTTP services not run by httpcore")
}

func runGet(cmd *cobra.Command, args []string) error {
	if err := initLogging("warn"); err != nil {
		return err
	}
	c := client.New(client.Options{Timeout: getTimeout})
	defer c.Close()

	resp, err := c.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if getInclude {
		fmt.Fprintln(out, ui.ResponseSummary(resp))
	}
	body, err := resp.Body.Bytes(time.Time{})
	if err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}

var (
	discoverTimeout time.Duration
	discoverAll     bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find httpcore servers on the local network",
	Long: `Browse mDNS for _http._tcp services. By default only servers started
with "httpcore serve --mdns" are listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging("warn"); err != nil {
			return err
		}
		scanner := discovery.NewScanner()
		scanner.Timeout = discoverTimeout
		scanner.OnlyHTTPCore = !discoverAll

		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout+time.Second)
		defer cancel()
		services, err := scanner.Browse(ctx)
		if err != nil {
			return err
		}
		printServices(cmd.OutOrStdout(), services)
		return nil
	},
}

func printServices(w io.Writer, services []*discovery.Service) {
	if len(services) == 0 {
		fmt.Fprintln(w, "no servers found")
		return
	}
	for _, s := range services {
		fmt.Fprintf(w, "%s\n    %s\n", s, s.BaseURL())
	}
}
