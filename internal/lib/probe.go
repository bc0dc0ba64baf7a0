// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"context"
	"log/slog"
)

// Prober derives the LocalRepoState of a working copy.
type Prober struct {
	VCS VCS
	// Fetch updates the remote tracking refs before counting ahead/behind.
	Fetch  bool
	Logger *slog.Logger
}

// Probe inspects path. A missing directory or one that is not a working copy
// yields Exists=false. Fetch and upstream problems degrade to TrackingRemoteOK=false;
// only a failing status check on an existing working copy is returned as an error.
func (p Prober) Probe(ctx context.Context, path string) (LocalRepoState, error) {
	var state LocalRepoState
	if !p.VCS.IsRepository(path) {
		return state, nil
	}
	state.Exists = true

	dirty, err := p.VCS.IsDirty(ctx, path)
	if err != nil {
		return state, err
	}
	state.IsDirty = dirty
	if dirty {
		state.Changes = p.VCS.ChangesSummary(ctx, path)
	}

	if branch, err := p.VCS.CurrentBranch(ctx, path); err == nil {
		state.CurrentBranch = branch
	}

	if p.Fetch {
		if err := p.VCS.Fetch(ctx, path); err != nil {
			p.logger().Debug("fetch failed", "path", path, "error", err)
			return state, nil
		}
	}
	ahead, behind, err := p.VCS.AheadBehind(ctx, path)
	if err != nil {
		p.logger().Debug("no upstream", "path", path, "error", err)
		return state, nil
	}
	state.Ahead, state.Behind = ahead, behind
	state.TrackingRemoteOK = true
	return state, nil
}

func (p Prober) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}
