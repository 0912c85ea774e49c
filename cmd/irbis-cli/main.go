package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pior/irbis"
	"github.com/spf13/cobra"
)

var (
	configFile       string
	connectionString string
	timeout          time.Duration
	verbose          bool
)

var rootCmd = &cobra.Command{
	Use:   "irbis-cli",
	Short: "Command line client for IRBIS64 servers",
	Long: `irbis-cli runs single commands against an IRBIS64 server.

Connection settings come from a TOML or YAML file (--config) and are then
overridden by a connection string (--connection):

  irbis-cli --connection "host=10.0.0.5;user=librarian;password=secret" maxmfn
  irbis-cli --config irbis.toml search "K=HISTORY$"`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "settings file (.toml, .yaml)")
	rootCmd.PersistentFlags().StringVarP(&connectionString, "connection", "c", "", "connection string, applied over the settings file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout of the whole command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadSettings merges the settings file and the connection string.
func loadSettings() (irbis.ConnectionSettings, error) {
	settings := irbis.DefaultSettings()
	if configFile != "" {
		loaded, err := irbis.LoadSettings(configFile)
		if err != nil {
			return settings, err
		}
		settings = loaded
	}
	if connectionString == "" {
		return settings, nil
	}

	conn := irbis.NewConnection(irbis.Config{})
	settings.Apply(conn)
	if err := conn.ParseConnectionString(connectionString); err != nil {
		return settings, err
	}
	return conn.Settings(), nil
}

// withConnection runs fn with a logged-in connection and logs out after.
func withConnection(cmd *cobra.Command, fn func(ctx context.Context, conn *irbis.Connection) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	conn := irbis.NewConnection(irbis.Config{})
	settings.Apply(conn)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s:%d: %w", conn.Host, conn.Port, err)
	}
	defer conn.Close()

	return fn(ctx, conn)
}

// failed explains an empty command result.
func failed(conn *irbis.Connection, what string) error {
	if err := conn.LastError(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: empty result", what)
}
