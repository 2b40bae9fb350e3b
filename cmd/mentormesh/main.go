// Command mentormesh runs the onboarding assistant from the terminal or as an
// HTTP service.
//
// Usage:
//
//	mentormesh [--config mentormesh.toml] [--env .env] <command> [flags]
//
// Commands:
//
//	query    ask a single question (-q) or start an interactive session
//	history  print the messages of a session
//	serve    start the HTTP API
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		var cfgErr *core.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envPath    string
}

func (g *globalFlags) load() (config.Config, error) {
	return config.Load(g.configPath, g.envPath)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "mentormesh",
		Short: "MentorMesh - onboarding assistant for new employees",
		Long: `MentorMesh answers onboarding questions from the company handbook.
It runs as an interactive terminal session or as an HTTP service.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return errors.New("missing command")
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to the TOML config file")
	root.PersistentFlags().StringVar(&g.envPath, "env", "", "path to the .env file")

	root.AddCommand(newQueryCmd(g), newHistoryCmd(g), newServeCmd(g))

	return root
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a question or start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			opts.defaultUser = cfg.Agent.DefaultUser

			ctx := cmd.Context()

			mesh, c, err := buildMesh(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
			defer shutdown(c, cmd.ErrOrStderr())

			if err != nil {
				return err
			}

			return runQuery(ctx, mesh, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "question to ask; starts an interactive session when empty")
	cmd.Flags().StringVar(&opts.sessionID, "session", "cli", "session id")
	cmd.Flags().StringVar(&opts.userName, "name", "", "your name")
	cmd.Flags().StringVar(&opts.userRole, "role", "", "your role")

	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			mesh, c, err := buildMesh(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
			defer shutdown(c, cmd.ErrOrStderr())

			if err != nil {
				return err
			}

			return printHistory(ctx, mesh, sessionID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id")

	return cmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			// --addr overrides the configured listen address.
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			ctx := cmd.Context()
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			mesh, c, err := buildMesh(ctx, cfg, logger)
			defer shutdown(c, cmd.ErrOrStderr())

			if err != nil {
				return err
			}

			return serve(ctx, addr, newServer(mesh, logger, cfg.Agent.DefaultUser), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	return cmd
}

func shutdown(c cleanup, stderr io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.run(ctx); err != nil {
		fmt.Fprintln(stderr, "shutdown:", err)
	}
}
