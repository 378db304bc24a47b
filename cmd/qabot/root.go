package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ericfisherdev/qabot/internal/config"
)

// rootOptions are the flags shared by every subcommand. Set flags override
// the matching QABOT_ environment variables.
type rootOptions struct {
	force     bool
	noComment bool
	dryRun    bool
	openQA    string
	debug     bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "qabot",
		Short: "Gate maintenance requests on openQA test results",
		Long: `qabot schedules openQA jobs for pending maintenance requests and for
fixed update targets, aggregates their results and accepts or declines the
requests' reviews accordingly.

Configuration is read from QABOT_ environment variables and from the data
files (incidents, repos, kgraft) in QABOT_DATA_DIR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.complete(cmd)
		},
	}

	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newTargetsCmd(opts),
	)

	return cmd
}

func (o *rootOptions) addFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&o.force, "force", false, "re-check requests that already carry a verdict (run only)")
	flags.BoolVar(&o.noComment, "no-comment", false, "never post or delete status comments")
	flags.BoolVar(&o.dryRun, "dry-run", false, "compute everything but submit no jobs and change no reviews")
	flags.StringVar(&o.openQA, "openqa", "", "openQA instance URL (overrides QABOT_OPENQA_URL)")
	flags.BoolVar(&o.debug, "debug", false, "enable debug logging")
}

// complete loads the environment configuration, applies flag overrides and
// installs the default logger.
func (o *rootOptions) complete(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("no-comment") {
		cfg.NoComment = o.noComment
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = o.dryRun
	}
	if flags.Changed("openqa") {
		cfg.OpenQAURL = o.openQA
	}
	if o.debug {
		cfg.LogLevel = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Debug("config loaded",
		"backend", cfg.Backend,
		"openqa", cfg.OpenQAURL,
		"data_dir", cfg.DataDir,
		"db_path", cfg.DBPath,
		"dry_run", cfg.DryRun,
		"no_comment", cfg.NoComment,
	)

	o.cfg = cfg
	return nil
}
