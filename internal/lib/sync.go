// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Syncer runs one reconciliation pass over a TargetSet.
type Syncer struct {
	Opts      Options
	Inventory Inventory
	Proposer  Proposer
	VCS       VCS

	// Notifier and Recorder are optional.
	Notifier Notifier
	Recorder Recorder

	Logger *slog.Logger
}

// New creates a Syncer driving the git command line.
func New(opts Options, inventory Inventory, proposer Proposer) *Syncer {
	return &Syncer{
		Opts:      opts,
		Inventory: inventory,
		Proposer:  proposer,
		VCS:       Git{},
	}
}

// Run fetches and filters the targets, reconciles them on Opts.Jobs workers and
// hands the summary to the notifier. A summary is returned even when the run
// aborts; the error is then also set in RunSummary.Err.
// Per-repository failures are reported in the summary only.
func (s *Syncer) Run(ctx context.Context) (*RunSummary, error) {
	opts := s.Opts
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	start := now().UTC()
	runID := uuid.NewString()
	logger := s.logger().With("run_id", runID)

	base := RunSummary{
		RunID:     runID,
		Mode:      opts.Mode,
		DryRun:    opts.DryRun || opts.Mode == ModeDryRun,
		Host:      opts.Host,
		OutputDir: opts.OutputDir,
		Branch:    BranchName(start, opts.HostSuffix),
		Start:     start,
	}
	logger.Info("run started", "mode", opts.Mode.String(), "dry_run", base.DryRun, "output_dir", opts.OutputDir, "jobs", opts.Jobs)

	targets, warning, err := s.targets(ctx, opts, logger)
	if err != nil {
		return s.abort(ctx, base, now, logger, err)
	}
	if warning != "" {
		base.Warnings = append(base.Warnings, warning)
	}
	for _, d := range targets.Duplicates {
		w := fmt.Sprintf("duplicate repository name %q (%s) ignored", d.Name, d.FullName)
		logger.Warn("duplicate repository name", "repo", d.Name, "full_name", d.FullName)
		base.Warnings = append(base.Warnings, w)
	}

	if !base.DryRun && (opts.Mode == ModeSync || opts.Mode == ModeCloneOnly) {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return s.abort(ctx, base, now, logger, fmt.Errorf("create output dir: %w", err))
		}
	}

	agg := NewAggregator(base, targets.Names())
	agg.RequireBranch = opts.RequireBranch

	r := &Reconciler{
		VCS:       s.VCS,
		Prober:    Prober{VCS: s.VCS, Fetch: !opts.NoFetch, Logger: logger},
		Proposer:  s.Proposer,
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		SSH:       opts.SSH,
		Shallow:   opts.Shallow,
		Branch:    base.Branch,
		NoPropose: opts.NoPropose,
		Host:      opts.Host,
		Now:       now,
		Logger:    logger,
	}

	var g errgroup.Group
	g.SetLimit(opts.Jobs)
	for _, repo := range targets.Repos {
		g.Go(func() error {
			o := r.Process(ctx, repo, filepath.Join(opts.OutputDir, repo.Name))
			return agg.Record(repo.Name, o)
		})
	}
	if err := g.Wait(); err != nil {
		return s.abort(ctx, base, now, logger, err)
	}

	summary := agg.Finalize(now().UTC())
	logger.Info("run finished",
		"cloned", len(summary.Cloned),
		"pulled", len(summary.Pulled),
		"committed", len(summary.Committed),
		"failed", len(summary.Failed),
		"skipped", len(summary.Skipped),
		"duration", summary.End.Sub(summary.Start))
	s.finish(ctx, summary, logger)
	return summary, nil
}

// List fetches and filters the inventory without touching the local tree.
func (s *Syncer) List(ctx context.Context) (TargetSet, error) {
	if s.Inventory == nil {
		return TargetSet{}, errors.New("no inventory source configured")
	}
	inventory, err := s.Inventory.ListRepositories(ctx, s.Opts.Owner, s.Opts.Limit)
	if err != nil {
		return TargetSet{}, &InventoryError{Provider: s.Opts.Provider, Err: err}
	}
	return Filter(inventory, s.Opts.Filter), nil
}

// targets returns the repositories of the run. Pull-only runs work on the local
// tree; restricted to the inventory they fall back to it when the inventory
// cannot be fetched for other reasons than authentication, returning a warning.
func (s *Syncer) targets(ctx context.Context, opts Options, logger *slog.Logger) (TargetSet, string, error) {
	local := func() (TargetSet, error) {
		repos, err := s.localRepos(opts.OutputDir)
		if err != nil {
			return TargetSet{}, err
		}
		rules := opts.Filter
		// Local working copies carry no archive flag.
		rules.IncludeArchived = true
		t := Filter(repos, rules)
		logger.Debug("scanned local tree", "repos", len(repos), "targets", len(t.Repos))
		return t, nil
	}

	if opts.Mode == ModePullOnly && !opts.RestrictPullToInventory {
		t, err := local()
		return t, "", err
	}
	t, err := s.List(ctx)
	if err != nil {
		if opts.Mode != ModePullOnly || errors.Is(err, ErrAuthRequired) || ctx.Err() != nil {
			return t, "", err
		}
		logger.Warn("inventory unavailable, pulling the local tree", "error", err)
		lt, lerr := local()
		if lerr != nil {
			return lt, "", lerr
		}
		return lt, fmt.Sprintf("inventory unavailable, pulled the local tree instead: %v", err), nil
	}
	logger.Debug("listed repositories", "provider", opts.Provider, "targets", len(t.Repos))
	return t, "", nil
}

// localRepos lists the working copies directly below dir, sorted by name.
func (s *Syncer) localRepos(dir string) ([]RepositoryDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	var repos []RepositoryDescriptor
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !s.VCS.IsRepository(filepath.Join(dir, e.Name())) {
			continue
		}
		repos = append(repos, RepositoryDescriptor{Name: e.Name()})
	}
	return repos, nil
}

func (s *Syncer) abort(ctx context.Context, base RunSummary, now func() time.Time, logger *slog.Logger, err error) (*RunSummary, error) {
	summary := base
	summary.End = now().UTC()
	summary.Err = err
	logger.Error("run aborted", "error", err)
	s.finish(ctx, &summary, logger)
	return &summary, err
}

func (s *Syncer) finish(ctx context.Context, summary *RunSummary, logger *slog.Logger) {
	if s.Recorder != nil {
		if err := s.Recorder.ObserveRun(summary); err != nil {
			logger.Warn("record metrics failed", "error", err)
		}
	}
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, summary); err != nil {
			logger.Warn("notification failed", "error", &NotificationError{Err: err})
		}
	}
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}
