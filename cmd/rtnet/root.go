package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrei-cloud/rtnet"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Shared state set during PersistentPreRun
	cfg    *Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rtnet",
	Short: "Framed TCP messaging with LAN discovery",
	Long: `rtnet runs the framed TCP transport as a server or a client, and can
find a peer on the local network by UDP broadcast before deciding which
of the two to be.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = loadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logger, err = newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "rtnet.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, connectCmd, discoverCmd, autoCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root command for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}

func newLogger(sec LogSection, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(sec.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", sec.Level, err)
	}

	out := w
	if sec.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// netLogger adapts the command logger for the rtnet packages.
func netLogger(component string) rtnet.Logger {
	return rtnet.NewZerologLogger(logger.With().Str("component", component).Logger())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
