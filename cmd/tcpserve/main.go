// The tcpserve command runs a standalone echo server on top of the library,
// mostly useful as a smoke test and as a reference for embedding the server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tcpserve/tcpserve/internal/core"
	"github.com/tcpserve/tcpserve/metrics"
	"github.com/tcpserve/tcpserve/server"
	"github.com/tcpserve/tcpserve/session"
)

var configFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "tcpserve",
		Short: "Socket server with per-connection session management",
		RunE:  run,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "./",
		"Path to the directory containing the server config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := core.LoadConfig(configFlag)
	if err != nil {
		return err
	}

	logger, err := core.NewLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.ListenAddress(), cfg.Server, logger, session.NewEcho)
	if err != nil {
		return err
	}
	srv.SetMetrics(metrics.New(prometheus.DefaultRegisterer))

	if err := srv.Start(); err != nil {
		return err
	}
	if !srv.Active() {
		return fmt.Errorf("server failed to bind %s, see log for details", cfg.ListenAddress())
	}

	go serveMetrics(logger, cfg.Web.MetricsPort)

	// Shut down gracefully on Ctrl-C or SIGTERM.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

func serveMetrics(logger *logrus.Logger, port int) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		logger.Warnf("metrics endpoint exited: %s", err)
	}
}
