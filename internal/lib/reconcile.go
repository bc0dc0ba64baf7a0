// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	reasonStatusOnly     = "status only"
	reasonNotPresent     = "not present, pull-only mode does not clone"
	reasonExists         = "already exists"
	reasonDirtyPullOnly  = "dirty, pull-only will not commit"
	reasonPullConflict   = "pull would conflict with local changes"
	reasonNothingPulled  = "nothing to pull"
	reasonUnknownDefault = "default branch unknown"
)

// Decide is the decision table. It is a pure function of the local state and mode;
// ModeDryRun decides like ModeSync.
func Decide(state LocalRepoState, mode Mode) Decision {
	if mode == ModeDryRun {
		mode = ModeSync
	}
	switch {
	case mode == ModeStatusOnly:
		return Decision{Kind: ActionSkip, Reason: reasonStatusOnly}
	case !state.Exists && mode == ModePullOnly:
		return Decision{Kind: ActionSkip, Reason: reasonNotPresent}
	case !state.Exists:
		return Decision{Kind: ActionClone}
	case mode == ModeCloneOnly:
		return Decision{Kind: ActionSkip, Reason: reasonExists}
	case !state.IsDirty:
		return Decision{Kind: ActionPull}
	case mode == ModePullOnly:
		return Decision{Kind: ActionPull, Dirty: true}
	default:
		return Decision{Kind: ActionPullAndPropose}
	}
}

// BranchName is the branch dirty working trees are committed to on the given day.
// The host suffix keeps machines syncing the same account from colliding.
func BranchName(now time.Time, hostSuffix string) string {
	name := "feature/" + now.UTC().Format("2006-01-02")
	if hostSuffix != "" {
		name += "-" + hostSuffix
	}
	return name
}

// Reconciler decides and applies the action for one repository at a time.
// It holds no per-repository state and may be shared by concurrent workers.
type Reconciler struct {
	VCS      VCS
	Prober   Prober
	Proposer Proposer

	Mode   Mode
	DryRun bool

	SSH     bool
	Shallow bool
	// Branch receives commits of dirty working trees.
	Branch    string
	NoPropose bool
	Host      string
	Now       func() time.Time

	Logger *slog.Logger
}

// Process probes, decides and applies for one repository. Per-repository
// failures are returned inside the Outcome, never as an error.
func (r *Reconciler) Process(ctx context.Context, repo RepositoryDescriptor, path string) Outcome {
	decision, state := r.Reconcile(ctx, repo, path)
	outcome := r.Apply(ctx, repo, path, state, decision)
	r.logger().Debug("reconciled", "repo", repo.Name, "decision", decision.String())
	return outcome
}

// Reconcile probes path and computes the decision.
func (r *Reconciler) Reconcile(ctx context.Context, repo RepositoryDescriptor, path string) (Decision, LocalRepoState) {
	state, err := r.Prober.Probe(ctx, path)
	if err != nil {
		return Decision{Kind: ActionError, Reason: "probe failed: " + errorLine(err)}, state
	}
	return Decide(state, r.Mode), state
}

// Apply executes the decision. In dry runs it only records what would happen.
func (r *Reconciler) Apply(ctx context.Context, repo RepositoryDescriptor, path string, state LocalRepoState, d Decision) Outcome {
	o := Outcome{Name: repo.Name, Decision: d, State: state}

	switch d.Kind {
	case ActionError:
		o.Err = &RepoError{Name: repo.Name, Step: "probe", Reason: d.Reason}
		return o
	case ActionSkip:
		if r.Mode == ModeStatusOnly {
			o.Status = true
		} else {
			o.SkipReason = d.Reason
		}
		return o
	}

	if r.dryRun() {
		o.Planned = true
		return o
	}

	switch d.Kind {
	case ActionClone:
		r.clone(ctx, repo, path, &o)
	case ActionPull:
		r.pull(ctx, repo, path, &o)
	case ActionPullAndPropose:
		r.pullAndPropose(ctx, repo, path, &o)
	}

	if o.Cloned || o.Pulled || o.Committed {
		r.reprobe(ctx, path, &o)
	}
	return o
}

func (r *Reconciler) clone(ctx context.Context, repo RepositoryDescriptor, path string, o *Outcome) {
	url := repo.CloneURL(r.SSH)
	if err := r.VCS.Clone(ctx, url, path, r.Shallow); err != nil {
		r.fail(o, "clone", "clone failed", err)
		return
	}
	r.logger().Info("cloned", "repo", repo.Name, "url", url)
	o.Cloned = true
}

func (r *Reconciler) pull(ctx context.Context, repo RepositoryDescriptor, path string, o *Outcome) {
	changed, err := r.VCS.Pull(ctx, path)
	if err != nil {
		// Skip only when the local changes block the fast-forward or nothing is tracked.
		var gerr *GitExecError
		if o.Decision.Dirty && errors.As(err, &gerr) && (gerr.Conflicts() || gerr.Kind == GitErrorNoUpstream) {
			r.logger().Info("skipped dirty pull", "repo", repo.Name, "error", err)
			o.SkipReason = reasonDirtyPullOnly
			return
		}
		r.fail(o, "pull", "pull failed", err)
		return
	}
	r.logger().Info("pulled", "repo", repo.Name, "changed", changed)
	o.Pulled = true
	o.Updated = changed
}

func (r *Reconciler) pullAndPropose(ctx context.Context, repo RepositoryDescriptor, path string, o *Outcome) {
	if o.State.Behind > 0 || !o.State.TrackingRemoteOK {
		changed, err := r.VCS.Pull(ctx, path)
		if err != nil {
			var gerr *GitExecError
			if errors.As(err, &gerr) && gerr.Conflicts() {
				r.fail(o, "pull", reasonPullConflict, err)
				return
			}
			if !errors.As(err, &gerr) || gerr.Kind != GitErrorNoUpstream {
				r.fail(o, "pull", "pull failed", err)
				return
			}
			// A local branch without upstream gets one when the commit branch is pushed.
			r.logger().Debug(reasonNothingPulled, "repo", repo.Name, "error", err)
		}
		o.Updated = changed
	}
	o.Pulled = true

	// The pull may have changed the working tree; never act on the stale state.
	state, err := r.Prober.withoutFetch().Probe(ctx, path)
	if err != nil {
		r.fail(o, "probe", "probe failed", err)
		return
	}
	o.State = state
	if !state.IsDirty {
		return
	}

	if err := r.VCS.CreateBranch(ctx, path, r.Branch); err != nil {
		r.fail(o, "branch", "create branch "+r.Branch+" failed", err)
		return
	}
	committed, err := r.VCS.CommitAll(ctx, path, r.commitMessage())
	if err != nil {
		r.fail(o, "commit", "commit failed", err)
		return
	}
	if !committed {
		return
	}
	if err := r.VCS.Push(ctx, path, r.Branch); err != nil {
		r.fail(o, "push", "push of "+r.Branch+" failed", err)
		return
	}
	r.logger().Info("committed", "repo", repo.Name, "branch", r.Branch, "changes", state.Changes)

	if r.NoPropose || r.Proposer == nil {
		o.Committed = true
		return
	}
	base := repo.DefaultBranch
	if base == "" {
		// Local working copies carry no descriptor metadata; ask the clone.
		if base, err = r.VCS.DefaultBranch(ctx, path); err != nil {
			r.fail(o, "propose", reasonUnknownDefault, err)
			return
		}
	}
	url, err := r.Proposer.CreateProposal(ctx, ProposalRequest{
		Repo:  repo,
		Path:  path,
		Head:  r.Branch,
		Base:  base,
		Title: "Auto-sync " + r.date(),
		Body:  fmt.Sprintf("Automated sync of local changes (%s) from %s.", state.Changes, r.Host),
	})
	if err != nil {
		r.fail(o, "propose", "merge proposal for pushed branch "+r.Branch+" failed", err)
		return
	}
	o.Committed = true
	o.ProposalURL = url
}

func (r *Reconciler) reprobe(ctx context.Context, path string, o *Outcome) {
	state, err := r.Prober.withoutFetch().Probe(ctx, path)
	if err != nil {
		r.logger().Warn("re-probe failed", "repo", o.Name, "error", err)
		return
	}
	o.State = state
}

func (r *Reconciler) fail(o *Outcome, step, reason string, err error) {
	r.logger().Warn(reason, "repo", o.Name, "step", step, "error", err)
	o.Cloned, o.Pulled, o.Updated, o.Committed = false, false, false, false
	o.Err = &RepoError{Name: o.Name, Step: step, Reason: reason, Err: err}
}

func (r *Reconciler) commitMessage() string {
	return fmt.Sprintf("Auto-sync from gitmirror (%s)", r.date())
}

func (r *Reconciler) date() string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Format("2006-01-02")
}

func (r *Reconciler) dryRun() bool {
	return r.DryRun || r.Mode == ModeDryRun
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (p Prober) withoutFetch() Prober {
	p.Fetch = false
	return p
}

func errorLine(err error) string {
	var gerr *GitExecError
	if errors.As(err, &gerr) && gerr.Stderr != "" {
		return firstLine(gerr.Stderr)
	}
	return firstLine(err.Error())
}
