package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that run without a resolved config
// (auth import must work before a config file exists).
const skipConfigAnnotation = "skipConfig"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags taken in PersistentPreRunE.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs. It is stored in the
// command context by PersistentPreRunE.
type CLIContext struct {
	Flags  CLIFlags
	Logger *slog.Logger
	Cfg    *config.Resolved // nil for commands annotated with skipConfigAnnotation

	// Overrides are the CLI flag overrides Cfg was resolved with. watch
	// re-applies them on reload.
	Overrides config.CLIOverrides

	logFile io.Closer
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by PersistentPreRunE. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("listsync: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listsync",
		Short: "Keep a SharePoint list in sync with another list or an export file",
		Long: `listsync mirrors a source (a SharePoint list or a JSON export) into a
destination SharePoint list: new rows are inserted, changed rows updated,
and rows that vanished from the source are closed rather than deleted.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  persistentPreRun,
		PersistentPostRunE: persistentPostRun,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newFailuresCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newAuthCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}
}

// persistentPreRun resolves configuration (unless the command opts out),
// builds the logger, and stores a CLIContext in the command context.
func persistentPreRun(cmd *cobra.Command, _ []string) error {
	flags := currentFlags()
	cc := &CLIContext{Flags: flags, Logger: bootstrapLogger(flags)}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		cli, err := cliOverrides(cmd, flags)
		if err != nil {
			return err
		}

		resolved, err := resolveConfig(cli)
		if err != nil {
			return err
		}

		logger, closer, err := buildLogger(&resolved.Logging, flags, os.Stderr)
		if err != nil {
			return err
		}

		cc.Cfg = resolved
		cc.Overrides = cli
		cc.Logger = logger
		cc.logFile = closer
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func persistentPostRun(cmd *cobra.Command, _ []string) error {
	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc.logFile == nil {
		return nil
	}

	return cc.logFile.Close()
}

// resolveConfig resolves the effective configuration from the four-layer
// override chain.
func resolveConfig(cli config.CLIOverrides) (*config.Resolved, error) {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return nil, fmt.Errorf("%w (pass --config or set %s)", err, config.EnvConfig)
		}

		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// cliOverrides collects the [sync] overrides the user actually set on the
// command line. Commands without those flags contribute only --config.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) (config.CLIOverrides, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		v, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return cli, err
		}

		cli.DryRun = &v
	}

	if f := cmd.Flags().Lookup("mode"); f != nil && f.Changed {
		v, err := cmd.Flags().GetString("mode")
		if err != nil {
			return cli, err
		}

		cli.Mode = &v
	}

	if f := cmd.Flags().Lookup("batch-size"); f != nil && f.Changed {
		v, err := cmd.Flags().GetInt("batch-size")
		if err != nil {
			return cli, err
		}

		cli.BatchSize = &v
	}

	return cli, nil
}

// flagLevel returns the level forced by CLI flags, if any.
func flagLevel(flags CLIFlags) (slog.Level, bool) {
	switch {
	case flags.Debug:
		return slog.LevelDebug, true
	case flags.Verbose:
		return slog.LevelInfo, true
	case flags.Quiet:
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// bootstrapLogger is used before config is loaded: warnings only unless
// flags ask for more.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn
	if l, ok := flagLevel(flags); ok {
		level = l
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the run logger. The config log level is the
// baseline; --debug, --verbose and --quiet override it because CLI flags
// always win. With log_file set, logs go to that file instead of out.
// The returned closer is nil unless a file was opened.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, out *os.File) (*slog.Logger, io.Closer, error) {
	level := parseLevel(lc.LogLevel)
	if l, ok := flagLevel(flags); ok {
		level = l
	}

	var (
		w      io.Writer = out
		closer io.Closer
		isTerm = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	)

	if lc.LogFile != "" {
		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		w, closer, isTerm = f, f, false
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(lc.LogFormat, isTerm) {
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), closer, nil
}

// useJSONLogs resolves log_format. "auto" picks text for terminals and
// JSON for everything else (journald, files, pipes).
func useJSONLogs(format string, isTerminal bool) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
