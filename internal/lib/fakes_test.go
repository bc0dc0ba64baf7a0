// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// fakeRepo is a working copy of fakeVCS.
type fakeRepo struct {
	branch        string
	defaultBranch string
	dirty         bool
	changes       string
	ahead, behind int
	noUpstream    bool

	statusErr error
	fetchErr  error
	pullErr   error
	pushErr   error
	branchErr error
}

// fakeVCS keeps working copies in memory, keyed by the base name of their path.
type fakeVCS struct {
	mu    sync.Mutex
	repos map[string]*fakeRepo
	// cloneErrs fails clones of the given URLs.
	cloneErrs map[string]error
	calls     []string
	pushed    map[string]string
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		repos:     make(map[string]*fakeRepo),
		cloneErrs: make(map[string]error),
		pushed:    make(map[string]string),
	}
}

func (f *fakeVCS) add(name string, r *fakeRepo) *fakeVCS {
	if r.branch == "" {
		r.branch = "main"
	}
	if r.changes == "" && r.dirty {
		r.changes = "1 modified"
	}
	f.repos[name] = r
	return f
}

func (f *fakeVCS) repo(path string) *fakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repos[filepath.Base(path)]
}

func (f *fakeVCS) record(call, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call+" "+filepath.Base(path))
}

// mutations returns the sorted calls that change a working copy or a remote.
func (f *fakeVCS) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		switch strings.Fields(c)[0] {
		case "clone", "pull", "branch", "commit", "push":
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeVCS) IsRepository(path string) bool {
	return f.repo(path) != nil
}

func (f *fakeVCS) Clone(ctx context.Context, url, path string, shallow bool) error {
	f.record("clone", path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cloneErrs[url]; err != nil {
		return err
	}
	f.repos[filepath.Base(path)] = &fakeRepo{branch: "main", defaultBranch: "main"}
	return nil
}

func (f *fakeVCS) Fetch(ctx context.Context, path string) error {
	return f.repo(path).fetchErr
}

func (f *fakeVCS) Pull(ctx context.Context, path string) (bool, error) {
	f.record("pull", path)
	r := f.repo(path)
	if r.pullErr != nil {
		return false, r.pullErr
	}
	if r.noUpstream {
		return false, &GitExecError{Kind: GitErrorNoUpstream, Args: []string{"pull"}, Err: errors.New("exit status 1"), Stderr: "There is no tracking information for the current branch."}
	}
	changed := r.behind > 0
	r.behind = 0
	return changed, nil
}

func (f *fakeVCS) CurrentBranch(ctx context.Context, path string) (string, error) {
	return f.repo(path).branch, nil
}

func (f *fakeVCS) DefaultBranch(ctx context.Context, path string) (string, error) {
	r := f.repo(path)
	if r.defaultBranch == "" {
		return "", errors.New("ref refs/remotes/origin/HEAD is not a symbolic ref")
	}
	return r.defaultBranch, nil
}

func (f *fakeVCS) AheadBehind(ctx context.Context, path string) (int, int, error) {
	r := f.repo(path)
	if r.noUpstream {
		return 0, 0, errors.New("no upstream configured")
	}
	return r.ahead, r.behind, nil
}

func (f *fakeVCS) IsDirty(ctx context.Context, path string) (bool, error) {
	r := f.repo(path)
	return r.dirty, r.statusErr
}

func (f *fakeVCS) ChangesSummary(ctx context.Context, path string) string {
	return f.repo(path).changes
}

func (f *fakeVCS) CreateBranch(ctx context.Context, path, name string) error {
	f.record("branch", path)
	r := f.repo(path)
	if r.branchErr != nil {
		return r.branchErr
	}
	r.branch = name
	return nil
}

func (f *fakeVCS) CommitAll(ctx context.Context, path, message string) (bool, error) {
	f.record("commit", path)
	r := f.repo(path)
	if !r.dirty {
		return false, nil
	}
	r.dirty = false
	r.changes = ""
	r.ahead++
	return true, nil
}

func (f *fakeVCS) Push(ctx context.Context, path, branch string) error {
	f.record("push", path)
	r := f.repo(path)
	if r.pushErr != nil {
		return r.pushErr
	}
	f.mu.Lock()
	f.pushed[filepath.Base(path)] = branch
	f.mu.Unlock()
	return nil
}

type fakeProposer struct {
	mu       sync.Mutex
	requests []ProposalRequest
	err      error
}

func (p *fakeProposer) CreateProposal(ctx context.Context, req ProposalRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("https://example.com/%s/pull/1", req.Repo.FullName), nil
}

type inventoryFunc func(ctx context.Context, owner string, limit int) ([]RepositoryDescriptor, error)

func (f inventoryFunc) ListRepositories(ctx context.Context, owner string, limit int) ([]RepositoryDescriptor, error) {
	return f(ctx, owner, limit)
}

func staticInventory(repos ...RepositoryDescriptor) Inventory {
	return inventoryFunc(func(ctx context.Context, owner string, limit int) ([]RepositoryDescriptor, error) {
		return repos, nil
	})
}

func descriptor(name string) RepositoryDescriptor {
	return RepositoryDescriptor{
		Name:          name,
		FullName:      "bep/" + name,
		CloneURLHTTPS: "https://example.com/bep/" + name + ".git",
		CloneURLSSH:   "git@example.com:bep/" + name + ".git",
		DefaultBranch: "main",
	}
}

type captureNotifier struct {
	mu        sync.Mutex
	summaries []*RunSummary
	err       error
}

func (n *captureNotifier) Notify(ctx context.Context, s *RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return n.err
}

type captureRecorder struct {
	summaries []*RunSummary
}

func (r *captureRecorder) ObserveRun(s *RunSummary) error {
	r.summaries = append(r.summaries, s)
	return nil
}
