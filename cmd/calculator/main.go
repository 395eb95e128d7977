// Command calculator serves the arithmetic methods over HTTP, WebSocket and, when a broker
// is configured, MQTT.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xizhibei/go-calculator/config"
)

// Version is set at build time.
var Version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps the command line flags onto config keys.
var flagKeys = map[string]string{
	"addr":      "http.addr",
	"log-level": "log.level",
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	load := func(cmd *cobra.Command) (*config.Config, error) {
		if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
			return nil, err
		}
		return config.Load(v, configFile)
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := load(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	}

	rootCmd := &cobra.Command{
		Use:          "calculator",
		Short:        "Calculator API server",
		SilenceUsage: true,
		RunE:         serve,
		Version:      Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("addr", "", "HTTP listen address, host:port")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the server (default command)",
		RunE:  serve,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	})

	return rootCmd
}
