package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pior/irbis"
	"github.com/pior/irbis/promexporter"
	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchFormat string
	termsLimit   int
	metricsAddr  string
	metricsDBs   []string
)

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of records, 0 for all")
	searchCmd.Flags().StringVarP(&searchFormat, "format", "f", "", "display format of each found record")
	termsCmd.Flags().IntVarP(&termsLimit, "limit", "n", 0, "maximum number of terms, 0 for all")
	metricsCmd.Flags().StringVar(&metricsAddr, "listen", ":9166", "address of the /metrics endpoint")
	metricsCmd.Flags().StringSliceVar(&metricsDBs, "database", nil, "databases to keep sessions open for")

	rootCmd.AddCommand(versionCmd, maxMfnCmd, readCmd, searchCmd, termsCmd, formatCmd, processesCmd, metricsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the server version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			info, err := conn.GetServerVersion(ctx)
			if err != nil {
				return err
			}
			if info.Version == "" {
				return failed(conn, "version")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Organization: %s\n", info.Organization)
			fmt.Fprintf(out, "Version:      %s\n", info.Version)
			fmt.Fprintf(out, "Clients:      %d/%d\n", info.ConnectedClients, info.MaxClients)
			return nil
		})
	},
}

var maxMfnCmd = &cobra.Command{
	Use:   "maxmfn [database]",
	Short: "Show the MFN the next record of a database will get",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			database := ""
			if len(args) == 1 {
				database = args[0]
			}
			maxMfn, err := conn.GetMaxMfn(ctx, database)
			if err != nil {
				return err
			}
			if maxMfn == 0 {
				return failed(conn, "maxmfn")
			}
			fmt.Fprintln(cmd.OutOrStdout(), maxMfn)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <mfn>",
	Short: "Print a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mfn, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid mfn %q", args[0])
		}
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			rec, err := conn.ReadRecord(ctx, mfn)
			if err != nil {
				return err
			}
			if rec == nil {
				return failed(conn, "read")
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.String())
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <expression>",
	Short: "Search the connection database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			found, err := conn.SearchEx(ctx, irbis.SearchParameters{
				Expression: args[0],
				Number:     searchLimit,
				Format:     searchFormat,
			})
			if err != nil {
				return err
			}
			if found == nil {
				return failed(conn, "search")
			}
			for _, line := range found {
				if line.Description == "" {
					fmt.Fprintln(cmd.OutOrStdout(), line.Mfn)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", line.Mfn, line.Description)
			}
			return nil
		})
	},
}

var termsCmd = &cobra.Command{
	Use:   "terms <prefix>",
	Short: "List dictionary terms starting with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			terms, err := conn.ReadAllTerms(ctx, args[0])
			if err != nil {
				return err
			}
			if terms == nil && conn.LastError() != nil {
				return failed(conn, "terms")
			}
			if termsLimit > 0 && len(terms) > termsLimit {
				terms = terms[:termsLimit]
			}
			for _, term := range terms {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", term.Count, term.Text)
			}
			return nil
		})
	},
}

var formatCmd = &cobra.Command{
	Use:   "format <format> <mfn>",
	Short: "Format a record with a display format or a @file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mfn, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid mfn %q", args[1])
		}
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			text, err := conn.FormatRecord(ctx, args[0], mfn)
			if err != nil {
				return err
			}
			if text == "" && conn.LastError() != nil {
				return failed(conn, "format")
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List the server processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(ctx context.Context, conn *irbis.Connection) error {
			processes, err := conn.ListProcesses(ctx)
			if err != nil {
				return err
			}
			if processes == nil && conn.LastError() != nil {
				return failed(conn, "processes")
			}
			for _, p := range processes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Number, p.IPAddress, p.Name, p.Workstation, p.Started, p.State)
			}
			return nil
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Keep pooled sessions alive and serve their statistics to Prometheus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		client, err := irbis.NewClient(settings, irbis.ClientConfig{
			MaxSize:             4,
			RetryLimit:          settings.RetryLimit,
			RetryDelay:          time.Second,
			HealthCheckInterval: time.Minute,
			NewCircuitBreaker:   irbis.NewCircuitBreakerConfig(1, time.Minute, 30*time.Second),
		})
		if err != nil {
			return err
		}
		defer client.Close()

		databases := metricsDBs
		if len(databases) == 0 {
			databases = []string{settings.Database}
		}
		for _, database := range databases {
			err := client.With(cmd.Context(), database, func(conn *irbis.Connection) error {
				_, err := conn.NoOp(cmd.Context())
				return err
			})
			if err != nil {
				return fmt.Errorf("open session for %s: %w", database, err)
			}
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "serving metrics on %s/metrics\n", metricsAddr)
		return promexporter.NewExporter(client).ListenAndServe(metricsAddr)
	},
}
