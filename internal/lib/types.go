// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"context"
	"fmt"
	"time"
)

// Mode selects which repository operations a run may perform.
type Mode int

const (
	ModeSync Mode = iota
	ModeCloneOnly
	ModePullOnly
	ModeStatusOnly
	ModeDryRun
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeCloneOnly:
		return "clone"
	case ModePullOnly:
		return "pull"
	case ModeStatusOnly:
		return "status"
	case ModeDryRun:
		return "dry-run"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeSync, ModeCloneOnly, ModePullOnly, ModeStatusOnly, ModeDryRun} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// RepositoryDescriptor is a repository as reported by one inventory fetch.
type RepositoryDescriptor struct {
	// Name is unique within one inventory and is also the directory name below the output dir.
	Name string
	// FullName is the owner qualified name on the hosting platform, e.g. "bep/gitjoin".
	FullName      string
	CloneURLHTTPS string
	CloneURLSSH   string
	IsArchived    bool
	DefaultBranch string
}

// CloneURL returns the URL to clone from, falling back to the other protocol when one is missing.
func (d RepositoryDescriptor) CloneURL(ssh bool) string {
	if ssh && d.CloneURLSSH != "" || d.CloneURLHTTPS == "" {
		return d.CloneURLSSH
	}
	return d.CloneURLHTTPS
}

// LocalRepoState is the observed state of one working copy.
// It is derived fresh for every run and re-probed after any mutation.
type LocalRepoState struct {
	Exists bool
	// CurrentBranch is empty when absent or on a detached HEAD.
	CurrentBranch    string
	Ahead            int
	Behind           int
	IsDirty          bool
	TrackingRemoteOK bool
	// Changes is a short summary of the working tree changes, set when IsDirty.
	Changes string
}

// ActionKind is the tag of a Decision.
type ActionKind int

const (
	ActionSkip ActionKind = iota
	ActionClone
	ActionPull
	ActionPullAndPropose
	ActionError
)

func (k ActionKind) String() string {
	switch k {
	case ActionSkip:
		return "skip"
	case ActionClone:
		return "clone"
	case ActionPull:
		return "pull"
	case ActionPullAndPropose:
		return "pull+propose"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Decision is the single action chosen for a repository in a run.
type Decision struct {
	Kind ActionKind
	// Reason is set for ActionSkip and ActionError.
	Reason string
	// Dirty marks a pull on a dirty working tree in pull-only mode.
	// Such a pull is fast-forward only and degrades to a skip when it cannot be applied.
	Dirty bool
}

func (d Decision) String() string {
	if d.Reason != "" {
		return d.Kind.String() + ": " + d.Reason
	}
	return d.Kind.String()
}

// Outcome is the result of applying a Decision to one repository.
type Outcome struct {
	Name     string
	Decision Decision

	Cloned      bool
	Pulled      bool
	Updated     bool
	Committed   bool
	ProposalURL string

	// Planned is set in dry runs: the decision was recorded but not applied.
	Planned bool
	// Status is set in status-only runs.
	Status     bool
	SkipReason string
	Err        *RepoError

	// State is the state after the action, re-probed when the repository was mutated.
	State LocalRepoState
}

// RunSummary is the write-once report of one run.
type RunSummary struct {
	RunID     string
	Mode      Mode
	DryRun    bool
	Host      string
	OutputDir string
	// Branch receives commits of dirty working trees in sync mode.
	Branch string
	Start  time.Time
	End    time.Time

	Cloned    []string
	Pulled    []string
	Updated   []string
	Committed []string
	Proposed  []Proposal
	Failed    []Failure
	Skipped   []SkippedRepo
	Planned   []PlannedAction
	Statuses  []RepoStatus
	Warnings  []string

	// Err is the fatal error that aborted the run before reconciliation, if any.
	Err error
}

// HasFailures reports whether the run aborted or any repository failed.
func (s *RunSummary) HasFailures() bool {
	return s.Err != nil || len(s.Failed) > 0
}

type Proposal struct {
	Name string
	URL  string
}

type Failure struct {
	Name   string
	Step   string
	Reason string
}

type SkippedRepo struct {
	Name   string
	Reason string
}

type PlannedAction struct {
	Name   string
	Action ActionKind
	Detail string
}

type RepoStatus struct {
	Name  string
	State LocalRepoState
	// BranchWarning is set when the repository is not on the required branch.
	BranchWarning string
}

// FilterRules selects the target repositories from an inventory.
type FilterRules struct {
	IncludeArchived bool
	Exclude         []string
	Only            []string
}

// Options configures one run. It is built by the caller; the engine never reads files or the environment.
type Options struct {
	Mode Mode
	// DryRun applies dry-run semantics to Mode. ModeDryRun implies it.
	DryRun    bool
	OutputDir string
	Jobs      int

	// Provider names the inventory source in errors and reports.
	Provider string
	Owner    string
	Limit    int
	Filter   FilterRules

	SSH     bool
	Shallow bool
	// NoFetch skips the fetch before computing ahead/behind counts.
	NoFetch bool

	// RequireBranch flags repositories on another branch in status reports.
	RequireBranch string
	// RestrictPullToInventory makes pull-only runs fetch the inventory and
	// only consider listed repositories instead of every local working copy.
	RestrictPullToInventory bool
	// NoPropose disables merge proposals for committed dirty working trees.
	NoPropose bool

	// HostSuffix is the sanitized host identity appended to commit branch names.
	HostSuffix string
	// Host describes this machine in reports.
	Host string

	Now func() time.Time
}

// Inventory lists the repositories of an account.
type Inventory interface {
	ListRepositories(ctx context.Context, owner string, limit int) ([]RepositoryDescriptor, error)
}

// ProposalRequest asks for a merge proposal of Head into Base.
type ProposalRequest struct {
	Repo  RepositoryDescriptor
	Path  string
	Head  string
	Base  string
	Title string
	Body  string
}

// Proposer creates merge proposals. An empty URL with a nil error means
// the platform does not support proposals.
type Proposer interface {
	CreateProposal(ctx context.Context, req ProposalRequest) (string, error)
}

// Notifier delivers a run summary.
type Notifier interface {
	Notify(ctx context.Context, s *RunSummary) error
}

// Recorder observes finished runs, e.g. to export metrics.
type Recorder interface {
	ObserveRun(s *RunSummary) error
}
