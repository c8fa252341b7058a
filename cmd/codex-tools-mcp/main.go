package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samestrin/codex-tools-mcp/internal/config"
	"github.com/samestrin/codex-tools-mcp/internal/mcp"
	"github.com/samestrin/codex-tools-mcp/internal/patch"
	"github.com/samestrin/codex-tools-mcp/internal/tools"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "0.1.0"

func main() {
	rootCmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, cerr.FormatWithHint())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath string
	flags      config.ServerConfig
}

// newRootCmd builds the command bound to the given stdio streams
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "codex-tools-mcp",
		Short: "MCP server exposing update_plan and apply_patch over stdio",
		Long: `codex-tools-mcp speaks newline-delimited JSON-RPC 2.0 on stdin/stdout.
It serves two tools: update_plan, which acknowledges plan updates, and
apply_patch, which applies file patches under the working directory.
Logs are written to stderr.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, stdin, stdout, stderr)
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	flags := rootCmd.Flags()
	flags.BoolP("version", "V", false, "Print version and exit")
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML or TOML config file")
	flags.StringVar(&opts.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error, off (default info)")
	flags.StringVar(&opts.flags.Workdir, "workdir", "", "Directory patch paths are relative to (default current directory)")
	flags.StringVar(&opts.flags.LockDir, "lock-dir", "", "Directory for the patch lock file, '-' disables locking (default system temp dir)")

	return rootCmd
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	var fileCfg *config.ServerConfig
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		fileCfg = loaded
	}

	settings, err := config.Resolve(opts.flags, fileCfg)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: settings.Level}))
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		logger.Warn("stdin is a terminal; expecting newline-delimited JSON-RPC from an MCP client")
	}

	applier, err := patch.NewApplier(settings.Workdir, settings.LockDir, logger.With("component", "patch"))
	if err != nil {
		return fmt.Errorf("create patch applier: %w", err)
	}
	bridge, err := tools.NewBridge(applier, logger.With("component", "tools"))
	if err != nil {
		return fmt.Errorf("create tool bridge: %w", err)
	}

	server := mcp.NewServer(stdin, stdout, bridge)
	server.SetServerInfo(settings.Name, version)
	server.SetLogger(logger)

	logger.Info("server started",
		"name", settings.Name,
		"version", version,
		"workdir", settings.Workdir,
		"tools", len(bridge.Tools()))

	if err := server.Serve(ctx); err != nil {
		return err
	}
	logger.Info("stdin closed, shutting down", "initialized", server.Initialized())
	return nil
}
