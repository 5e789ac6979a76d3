package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kaiun"
	"github.com/ashita-ai/kaiun/internal/auth"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("KAIUN_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	var store string
	root := &cobra.Command{
		Use:   "kaiun",
		Short: "Shipment tool server for agents and voice assistants",
		Long: `kaiun serves one catalog of shipment tools over an SSE session transport,
synchronous JSON-RPC, a voice webhook, and MCP.

With no subcommand it runs the server. Configuration comes from KAIUN_*
environment variables and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&store, "store", "", "record store: postgres, sqlite, or memory (overrides KAIUN_STORE)")

	opts := func() []kaiun.Option {
		o := []kaiun.Option{kaiun.WithLogger(logger), kaiun.WithVersion(version)}
		if store != "" {
			o = append(o, kaiun.WithStore(store))
		}
		return o
	}

	serve := newServeCmd(opts)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newSeedCmd(opts), newToolsCmd(), newHashKeyCmd(), newGenKeyCmd())
	return root
}

func newServeCmd(opts func() []kaiun.Option) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := opts()
			if port != 0 {
				o = append(o, kaiun.WithPort(port))
			}
			app, err := kaiun.New(o...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides KAIUN_PORT)")
	return cmd
}

func newSeedCmd(opts func() []kaiun.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert shipments from a JSON array file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := kaiun.New(opts()...)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			n, err := app.Seed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d shipments from %s\n", n, args[0])
			return err
		},
	}
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printTools(cmd.OutOrStdout(), kaiun.Catalog(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors with input schemas as JSON")
	return cmd
}

func printTools(w io.Writer, infos []kaiun.ToolInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tMODE\tDESCRIPTION")
	for _, ti := range infos {
		mode := "write"
		if ti.ReadOnly {
			mode = "read"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ti.Name, mode, ti.Description)
	}
	return tw.Flush()
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an API key read from stdin for KAIUN_API_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read key: %w", err)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("hash-key: empty key on stdin")
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
