// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bep/gitmirror/internal/config"
	"github.com/bep/gitmirror/internal/hostid"
	"github.com/bep/gitmirror/internal/hosting"
	"github.com/bep/gitmirror/internal/lib"
	"github.com/bep/gitmirror/internal/logging"
	"github.com/bep/gitmirror/internal/metrics"
	"github.com/bep/gitmirror/internal/notify"
	"github.com/bep/gitmirror/internal/schedule"
	"github.com/spf13/cobra"
)

const exitRepoFailures = 2

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

type flags struct {
	configFile  string
	outputDir   string
	owner       string
	limit       int
	provider    string
	inventory   string
	noArchived  bool
	exclude     []string
	only        []string
	jobs        int
	ssh         bool
	shallow     bool
	noFetch     bool
	hostSuffix  string
	metricsFile string
	verbose     bool
	quiet       bool
	logFormat   string
	failOnError bool

	dryRun        bool
	restrict      bool
	requireBranch string
	noPropose     bool

	goos string
}

type app struct {
	f      flags
	stdout io.Writer
	stderr io.Writer
	// exitCode is set by commands that succeed with a non-zero exit status.
	exitCode int
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	f := &a.f

	rootCmd := &cobra.Command{
		Use:   "gitmirror",
		Short: "Keep a local mirror of your remote git repositories in sync",
		Long: `Clone missing repositories, pull existing ones and, in sync mode, commit dirty working
trees to a dated branch, push it and open a merge proposal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/gitmirror/config.yaml)")
	pf.StringVarP(&f.outputDir, "output-dir", "o", "", "directory holding the repositories")
	pf.StringVar(&f.owner, "owner", "", "user, organization or group to list repositories for (default: authenticated user)")
	pf.IntVarP(&f.limit, "limit", "n", 0, "max number of repositories to list")
	pf.StringVar(&f.provider, "provider", "", "inventory provider: github, gitlab, gh or file")
	pf.StringVar(&f.inventory, "inventory", "", "inventory file for the file provider")
	pf.BoolVar(&f.noArchived, "no-archived", false, "skip archived repositories")
	pf.StringSliceVar(&f.exclude, "exclude", nil, "glob(s) of repository names to skip")
	pf.StringSliceVar(&f.only, "only", nil, "glob(s) of repository names to include")
	pf.IntVarP(&f.jobs, "jobs", "j", 0, "number of repositories processed in parallel")
	pf.BoolVar(&f.ssh, "ssh", false, "clone with SSH URLs")
	pf.BoolVar(&f.shallow, "shallow", false, "shallow clone (--depth 1)")
	pf.BoolVar(&f.noFetch, "no-fetch", false, "do not fetch before computing ahead/behind")
	pf.StringVar(&f.hostSuffix, "host-suffix", "", "suffix of commit branch names (default: sanitized host name)")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "verbose logging")
	pf.BoolVarP(&f.quiet, "quiet", "q", false, "only log errors and suppress the report")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text or json (default: text on terminals)")
	pf.BoolVar(&f.failOnError, "fail-on-error", false, "exit with status 2 when any repository failed")

	syncCmd := a.modeCommand(lib.ModeSync, "sync", "Clone missing, pull existing and commit+propose dirty repositories")
	syncCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "only report what would be done")
	syncCmd.Flags().BoolVar(&f.noPropose, "no-propose", false, "commit and push dirty working trees without opening a merge proposal")

	cloneCmd := a.modeCommand(lib.ModeCloneOnly, "clone", "Clone missing repositories")
	cloneCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "only report what would be done")

	pullCmd := a.modeCommand(lib.ModePullOnly, "pull", "Pull the repositories in the output directory, never committing")
	pullCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "only report what would be done")
	pullCmd.Flags().BoolVar(&f.restrict, "restrict-to-inventory", false, "only pull repositories listed by the provider")

	statusCmd := a.modeCommand(lib.ModeStatusOnly, "status", "Report branch, ahead/behind and dirty state of each repository")
	statusCmd.Flags().StringVar(&f.requireBranch, "require-branch", "", "flag repositories not on this branch")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the repositories selected by the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.list(cmd)
		},
	}

	rootCmd.AddCommand(cloneCmd, pullCmd, syncCmd, statusCmd, listCmd, a.scheduleCommand())
	rootCmd.SetArgs(args[1:])
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return a.exitCode
}

func (a *app) modeCommand(mode lib.Mode, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sync(cmd, mode)
		},
	}
}

func (a *app) scheduleCommand() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the daily sync job of the OS scheduler",
	}
	scheduleCmd.PersistentFlags().StringVar(&a.f.goos, "os", runtime.GOOS, "target operating system: darwin, linux or windows")

	newCmd := func(use, short string, do func(ctx context.Context, s *schedule.Scheduler, job schedule.Job) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig(cmd)
				if err != nil {
					return err
				}
				s, job, err := a.scheduler(cfg)
				if err != nil {
					return err
				}
				return do(cmd.Context(), s, job)
			},
		}
	}

	scheduleCmd.AddCommand(
		newCmd("install", "Install the daily sync job", func(ctx context.Context, s *schedule.Scheduler, job schedule.Job) error {
			if err := s.Install(ctx, job); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Installed daily sync at %02d:%02d of %s\n", job.Hour, job.Minute, job.OutputDir)
			return nil
		}),
		newCmd("remove", "Remove the daily sync job", func(ctx context.Context, s *schedule.Scheduler, job schedule.Job) error {
			if err := s.Remove(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Removed daily sync")
			return nil
		}),
		newCmd("print", "Print the job definition without installing it", func(ctx context.Context, s *schedule.Scheduler, job schedule.Job) error {
			return s.Print(a.stdout, job)
		}),
	)
	return scheduleCmd
}

func (a *app) scheduler(cfg *config.Config) (*schedule.Scheduler, schedule.Job, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, schedule.Job{}, err
	}
	binary, err := os.Executable()
	if err != nil {
		return nil, schedule.Job{}, err
	}
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, schedule.Job{}, err
	}
	job := schedule.DefaultJob(binary, outputDir)
	if a.f.configFile != "" {
		if job.ConfigFile, err = filepath.Abs(a.f.configFile); err != nil {
			return nil, schedule.Job{}, err
		}
	}
	if a.f.goos == "darwin" {
		job.LogFile = filepath.Join(home, "Library", "Logs", "gitmirror.log")
	}
	return &schedule.Scheduler{GOOS: a.f.goos, Home: home}, job, nil
}

func (a *app) sync(cmd *cobra.Command, mode lib.Mode) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	provider, err := hosting.New(ctx, hosting.Config{
		Provider:      cfg.Provider,
		Token:         cfg.Token(),
		BaseURL:       cfg.BaseURL(),
		InventoryFile: cfg.InventoryFile,
	})
	if err != nil {
		return err
	}

	opts := a.options(cfg, mode)
	s := lib.New(opts, provider, provider)
	s.Logger = logger
	if cfg.Notify.Enabled() {
		if err := cfg.ResolveSecrets(ctx, nil); err != nil {
			logger.Warn("could not resolve SMTP password", "error", err)
		}
	}
	s.Notifier = notify.New(cfg.Notify, logger)
	if cfg.MetricsFile != "" {
		s.Recorder = metrics.New(cfg.MetricsFile)
	}

	summary, err := s.Run(ctx)
	if !a.f.quiet {
		fmt.Fprint(a.stdout, summary.Render())
	}
	if err != nil {
		if errors.Is(err, lib.ErrAuthRequired) {
			return fmt.Errorf("%w (set a token in the config file or the environment)", err)
		}
		return err
	}
	if a.f.failOnError && summary.HasFailures() {
		a.exitCode = exitRepoFailures
	}
	return nil
}

func (a *app) list(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	provider, err := hosting.New(cmd.Context(), hosting.Config{
		Provider:      cfg.Provider,
		Token:         cfg.Token(),
		BaseURL:       cfg.BaseURL(),
		InventoryFile: cfg.InventoryFile,
	})
	if err != nil {
		return err
	}
	s := lib.New(a.options(cfg, lib.ModeStatusOnly), provider, provider)
	s.Logger = logger
	targets, err := s.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range targets.Names() {
		fmt.Fprintln(a.stdout, name)
	}
	for _, d := range targets.Duplicates {
		logger.Warn("duplicate repository name", "repo", d.Name, "full_name", d.FullName)
	}
	return nil
}

// loadConfig loads the config file and applies the flags given on the command line.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := a.f
	cfg, err := config.Load(f.configFile, os.Getenv)
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Lookup(name) != nil && fl.Changed(name) {
			apply()
		}
	}
	set("output-dir", func() { cfg.OutputDir = f.outputDir })
	set("owner", func() { cfg.Owner = f.owner })
	set("limit", func() { cfg.Limit = f.limit })
	set("provider", func() { cfg.Provider = f.provider })
	set("inventory", func() { cfg.InventoryFile = f.inventory })
	set("no-archived", func() { cfg.IncludeArchived = !f.noArchived })
	set("exclude", func() { cfg.Exclude = f.exclude })
	set("only", func() { cfg.Only = f.only })
	set("jobs", func() { cfg.Jobs = f.jobs })
	set("ssh", func() { cfg.SSH = f.ssh })
	set("shallow", func() { cfg.Shallow = f.shallow })
	set("host-suffix", func() { cfg.HostSuffix = f.hostSuffix })
	set("metrics-file", func() { cfg.MetricsFile = f.metricsFile })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
	set("require-branch", func() { cfg.RequireBranch = f.requireBranch })
	set("restrict-to-inventory", func() { cfg.PullOnlyRestrictToInventory = f.restrict })
	set("no-propose", func() { cfg.Propose = !f.noPropose })
	switch {
	case f.verbose:
		cfg.Log.Level = "debug"
	case f.quiet:
		cfg.Log.Level = "error"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) logger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(a.stderr, logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func (a *app) options(cfg *config.Config, mode lib.Mode) lib.Options {
	if mode == lib.ModeSync && a.f.dryRun {
		mode = lib.ModeDryRun
	}
	hostSuffix := hostid.Sanitize(hostid.Hostname())
	if cfg.HostSuffix != "" {
		hostSuffix = hostid.Sanitize(cfg.HostSuffix)
	}
	return lib.Options{
		Mode:      mode,
		DryRun:    a.f.dryRun,
		OutputDir: cfg.OutputDir,
		Jobs:      cfg.Jobs,
		Provider:  cfg.Provider,
		Owner:     cfg.Owner,
		Limit:     cfg.Limit,
		Filter: lib.FilterRules{
			IncludeArchived: cfg.IncludeArchived,
			Exclude:         cfg.Exclude,
			Only:            cfg.Only,
		},
		SSH:                     cfg.SSH,
		Shallow:                 cfg.Shallow,
		NoFetch:                 a.f.noFetch,
		RequireBranch:           cfg.RequireBranch,
		RestrictPullToInventory: cfg.PullOnlyRestrictToInventory,
		NoPropose:               !cfg.Propose,
		HostSuffix:              hostSuffix,
		Host:                    hostid.Describe(),
	}
}
