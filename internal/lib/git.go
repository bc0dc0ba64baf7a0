// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// VCS is the version control executor the engine drives.
// All methods operate on the working copy at path and are safe for concurrent
// use on different paths.
type VCS interface {
	IsRepository(path string) bool
	Clone(ctx context.Context, url, path string, shallow bool) error
	Fetch(ctx context.Context, path string) error
	// Pull fast-forwards the current branch and reports whether HEAD moved.
	Pull(ctx context.Context, path string) (changed bool, err error)
	CurrentBranch(ctx context.Context, path string) (string, error)
	DefaultBranch(ctx context.Context, path string) (string, error)
	AheadBehind(ctx context.Context, path string) (ahead, behind int, err error)
	IsDirty(ctx context.Context, path string) (bool, error)
	ChangesSummary(ctx context.Context, path string) string
	// CreateBranch switches to name, creating it from HEAD when missing. Working tree changes are kept.
	CreateBranch(ctx context.Context, path, name string) error
	// CommitAll stages everything and commits. It reports false when there was nothing to commit.
	CommitAll(ctx context.Context, path, message string) (bool, error)
	Push(ctx context.Context, path, branch string) error
}

// GitErrorKind classifies git failures by their diagnostics.
type GitErrorKind int

const (
	GitErrorUnknown GitErrorKind = iota
	GitErrorAuthRequired
	GitErrorNotFound
	GitErrorUnavailable
	GitErrorNoUpstream
	GitErrorWouldOverwrite
	GitErrorNotFastForward
)

// GitExecError is a failed git invocation with its captured output.
type GitExecError struct {
	Kind   GitErrorKind
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *GitExecError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *GitExecError) Unwrap() error { return e.Err }

// Conflicts reports whether the failure means the pull cannot be applied on top of local changes.
func (e *GitExecError) Conflicts() bool {
	return e.Kind == GitErrorWouldOverwrite || e.Kind == GitErrorNotFastForward
}

func classifyGitError(stderr string) GitErrorKind {
	switch {
	case strings.Contains(stderr, "could not read Username"),
		strings.Contains(stderr, "Authentication failed"),
		strings.Contains(stderr, "Permission denied (publickey)"):
		return GitErrorAuthRequired
	case strings.Contains(stderr, "Could not resolve host"),
		strings.Contains(stderr, "Connection refused"),
		strings.Contains(stderr, "Connection timed out"):
		return GitErrorUnavailable
	case strings.Contains(stderr, "not found"),
		strings.Contains(stderr, "does not appear to be a git repository"):
		return GitErrorNotFound
	case strings.Contains(stderr, "no tracking information"):
		return GitErrorNoUpstream
	case strings.Contains(stderr, "would be overwritten"),
		strings.Contains(stderr, "commit your changes or stash them"):
		return GitErrorWouldOverwrite
	case strings.Contains(stderr, "Not possible to fast-forward"),
		strings.Contains(stderr, "not possible to fast-forward"),
		strings.Contains(stderr, "Diverging branches"),
		strings.Contains(stderr, "CONFLICT"):
		return GitErrorNotFastForward
	}
	return GitErrorUnknown
}

// Git implements VCS with the git command line.
type Git struct {
	// Binary is the git executable, "git" when empty.
	Binary string
}

func (g Git) repo(path string) Repo {
	return Repo{Path: path, binary: g.Binary}
}

func (g Git) IsRepository(path string) bool { return g.repo(path).IsGitRepo() }

func (g Git) Clone(ctx context.Context, url, path string, shallow bool) error {
	args := []string{"clone", "--quiet"}
	if shallow {
		args = append(args, "--depth", "1")
	}
	args = append(args, url, path)
	_, err := Repo{binary: g.Binary}.run(ctx, args...)
	return err
}

func (g Git) Fetch(ctx context.Context, path string) error {
	_, err := g.repo(path).run(ctx, "fetch", "--quiet")
	return err
}

func (g Git) Pull(ctx context.Context, path string) (bool, error) {
	return g.repo(path).Pull(ctx)
}

func (g Git) CurrentBranch(ctx context.Context, path string) (string, error) {
	return g.repo(path).CurrentBranch(ctx)
}

func (g Git) DefaultBranch(ctx context.Context, path string) (string, error) {
	return g.repo(path).DefaultBranch(ctx)
}

func (g Git) AheadBehind(ctx context.Context, path string) (int, int, error) {
	out, err := g.repo(path).run(ctx, "rev-list", "--left-right", "--count", "@{u}...HEAD")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("could not parse ahead/behind counts %q", out)
	}
	behind, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	ahead, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

func (g Git) IsDirty(ctx context.Context, path string) (bool, error) {
	return g.repo(path).HasUncommittedChanges(ctx)
}

func (g Git) ChangesSummary(ctx context.Context, path string) string {
	return g.repo(path).ChangesSummary(ctx)
}

func (g Git) CreateBranch(ctx context.Context, path, name string) error {
	r := g.repo(path)
	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}
	if _, err := r.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		return r.SwitchBranch(ctx, name)
	}
	_, err = r.run(ctx, "switch", "--create", name)
	return err
}

func (g Git) CommitAll(ctx context.Context, path, message string) (bool, error) {
	r := g.repo(path)
	if _, err := r.run(ctx, "add", "--all"); err != nil {
		return false, err
	}
	// Only ignored or already staged-away changes may remain.
	staged, err := r.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(staged) == "" {
		return false, nil
	}
	if _, err := r.run(ctx, "commit", "--quiet", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

func (g Git) Push(ctx context.Context, path, branch string) error {
	_, err := g.repo(path).run(ctx, "push", "--quiet", "--set-upstream", "origin", branch)
	return err
}

// Repo is a local git working copy.
type Repo struct {
	Path   string
	binary string
}

func (r Repo) IsGitRepo() bool {
	// .git is a file in worktrees and submodules.
	_, err := os.Stat(filepath.Join(r.Path, ".git"))
	return err == nil
}

func (r Repo) DefaultBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimSpace(out), "/")
	if len(parts) == 0 {
		return "", fmt.Errorf("could not parse default branch")
	}
	return parts[len(parts)-1], nil
}

func (r Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r Repo) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (r Repo) ChangesSummary(ctx context.Context) string {
	out, _ := r.run(ctx, "status", "--porcelain")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return "no changes"
	}
	var modified, added, deleted int
	for _, line := range lines {
		if len(line) < 2 {
			continue
		}
		status := line[:2]
		if strings.Contains(status, "M") {
			modified++
		} else if strings.Contains(status, "A") || strings.Contains(status, "?") {
			added++
		} else if strings.Contains(status, "D") {
			deleted++
		}
	}
	var parts []string
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", modified))
	}
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", added))
	}
	if deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", deleted))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d changes", len(lines))
	}
	return strings.Join(parts, ", ")
}

func (r Repo) Pull(ctx context.Context) (changed bool, err error) {
	// HEAD does not resolve in a repository without commits.
	headBefore, _ := r.run(ctx, "rev-parse", "HEAD")
	if _, err := r.run(ctx, "pull", "--quiet", "--ff-only"); err != nil {
		return false, err
	}
	headAfter, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}
	return headBefore != headAfter, nil
}

func (r Repo) SwitchBranch(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "switch", branch)
	return err
}

func (r Repo) run(ctx context.Context, args ...string) (string, error) {
	binary := r.binary
	if binary == "" {
		binary = "git"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = r.Path
	// Never block an unattended run on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &GitExecError{
			Kind:   classifyGitError(stderr.String()),
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return stdout.String(), nil
}
