// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"fmt"
	"sync"
	"time"
)

// Aggregator collects outcomes from concurrent workers. Outcomes are stored by
// target position, so the summary lists follow target order regardless of
// completion order.
type Aggregator struct {
	// RequireBranch flags statuses of repositories on another branch.
	RequireBranch string

	mu       sync.Mutex
	base     RunSummary
	index    map[string]int
	outcomes []*Outcome
	final    *RunSummary
}

// NewAggregator creates an aggregator for the named targets. base carries the run metadata.
func NewAggregator(base RunSummary, names []string) *Aggregator {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return &Aggregator{
		base:     base,
		index:    index,
		outcomes: make([]*Outcome, len(names)),
	}
}

// Record stores the outcome of one repository. It is safe for concurrent use.
func (a *Aggregator) Record(name string, o Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return ErrFinalized
	}
	i, ok := a.index[name]
	if !ok {
		return fmt.Errorf("record %q: not a target of this run", name)
	}
	if a.outcomes[i] != nil {
		return fmt.Errorf("record %q: already recorded", name)
	}
	a.outcomes[i] = &o
	return nil
}

// Finalize builds the summary. Later calls return the same summary.
func (a *Aggregator) Finalize(end time.Time) *RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return a.final
	}
	s := a.base
	s.End = end
	for _, o := range a.outcomes {
		if o == nil {
			continue
		}
		a.add(&s, o)
	}
	a.final = &s
	return a.final
}

func (a *Aggregator) add(s *RunSummary, o *Outcome) {
	switch {
	case o.Err != nil:
		s.Failed = append(s.Failed, Failure{Name: o.Name, Step: o.Err.Step, Reason: failureReason(o.Err)})
	case o.Planned:
		s.Planned = append(s.Planned, PlannedAction{Name: o.Name, Action: o.Decision.Kind, Detail: plannedDetail(o)})
	case o.Status:
		st := RepoStatus{Name: o.Name, State: o.State}
		if a.RequireBranch != "" && o.State.Exists && o.State.CurrentBranch != a.RequireBranch {
			st.BranchWarning = "not " + a.RequireBranch
		}
		s.Statuses = append(s.Statuses, st)
	case o.SkipReason != "":
		s.Skipped = append(s.Skipped, SkippedRepo{Name: o.Name, Reason: o.SkipReason})
	case o.Cloned:
		s.Cloned = append(s.Cloned, o.Name)
	case o.Pulled:
		s.Pulled = append(s.Pulled, o.Name)
		if o.Updated {
			s.Updated = append(s.Updated, o.Name)
		}
		if o.Committed {
			s.Committed = append(s.Committed, o.Name)
		}
		if o.ProposalURL != "" {
			s.Proposed = append(s.Proposed, Proposal{Name: o.Name, URL: o.ProposalURL})
		}
	}
}

func failureReason(err *RepoError) string {
	if err.Err == nil {
		return err.Reason
	}
	return err.Reason + ": " + errorLine(err.Err)
}

func plannedDetail(o *Outcome) string {
	switch o.Decision.Kind {
	case ActionPullAndPropose:
		return "dirty (" + o.State.Changes + "), would pull, commit, push and propose"
	case ActionPull:
		if o.State.TrackingRemoteOK {
			return fmt.Sprintf("would pull, behind %d", o.State.Behind)
		}
		return "would pull"
	case ActionClone:
		return "would clone"
	}
	return ""
}
