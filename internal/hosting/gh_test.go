// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bep/gitmirror/internal/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGH writes a shell script standing in for the GitHub CLI.
func fakeGH(t *testing.T, script string) *GH {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}
	bin := filepath.Join(t.TempDir(), "gh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755))
	return &GH{Binary: bin}
}

func TestGHListRepositories(t *testing.T) {
	gh := fakeGH(t, `
case "$1 $2" in
"auth status") exit 0 ;;
"repo list")
	[ "$3" = "bep" ] || { echo "unexpected owner $3" >&2; exit 1; }
	[ "$5" = "10" ] || { echo "unexpected limit $5" >&2; exit 1; }
	cat <<'EOF'
[{"name":"a","nameWithOwner":"bep/a","url":"https://github.com/bep/a","sshUrl":"git@github.com:bep/a.git","isArchived":false,"defaultBranchRef":{"name":"main"}},
 {"name":"b","nameWithOwner":"bep/b","url":"https://github.com/bep/b","sshUrl":"git@github.com:bep/b.git","isArchived":true,"defaultBranchRef":{"name":"master"}}]
EOF
	;;
esac
`)
	repos, err := gh.ListRepositories(context.Background(), "bep", 10)
	require.NoError(t, err)
	assert.Equal(t, []lib.RepositoryDescriptor{
		{Name: "a", FullName: "bep/a", CloneURLHTTPS: "https://github.com/bep/a.git", CloneURLSSH: "git@github.com:bep/a.git", DefaultBranch: "main"},
		{Name: "b", FullName: "bep/b", CloneURLHTTPS: "https://github.com/bep/b.git", CloneURLSSH: "git@github.com:bep/b.git", IsArchived: true, DefaultBranch: "master"},
	}, repos)
}

func TestGHListRepositoriesNotLoggedIn(t *testing.T) {
	gh := fakeGH(t, `echo "You are not logged into any GitHub hosts." >&2; exit 1`)
	_, err := gh.ListRepositories(context.Background(), "", 10)
	assert.True(t, errors.Is(err, lib.ErrAuthRequired))
	assert.ErrorContains(t, err, "not logged into any GitHub hosts")
}

func TestGHListRepositoriesNotInstalled(t *testing.T) {
	for _, binary := range []string{"gitmirror-no-such-gh", filepath.Join(t.TempDir(), "gh")} {
		gh := &GH{Binary: binary}
		_, err := gh.ListRepositories(context.Background(), "", 10)
		assert.False(t, errors.Is(err, lib.ErrAuthRequired), binary)
		assert.ErrorContains(t, err, "GitHub CLI is not installed", binary)
	}
}

func TestGHListRepositoriesBadOutput(t *testing.T) {
	gh := fakeGH(t, `[ "$1" = "auth" ] && exit 0; echo "not json"`)
	_, err := gh.ListRepositories(context.Background(), "", 10)
	assert.ErrorContains(t, err, "failed to parse gh repo list output")
}

func TestGHCreateProposal(t *testing.T) {
	req := lib.ProposalRequest{
		Repo:  lib.RepositoryDescriptor{Name: "c", FullName: "bep/c"},
		Path:  t.TempDir(),
		Head:  "feature/2026-03-07-laptop",
		Base:  "main",
		Title: "Auto-sync 2026-03-07",
		Body:  "Automated sync",
	}

	gh := fakeGH(t, `
echo "Creating pull request for feature/2026-03-07-laptop into main in bep/c" >&2
echo "https://github.com/bep/c/pull/7"
`)
	url, err := gh.CreateProposal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/bep/c/pull/7", url)

	gh = fakeGH(t, `
echo 'a pull request for branch "feature/2026-03-07-laptop" into branch "main" already exists:' >&2
echo "https://github.com/bep/c/pull/3" >&2
exit 1
`)
	url, err = gh.CreateProposal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/bep/c/pull/3", url)

	gh = fakeGH(t, `echo "GraphQL: Head sha can't be blank" >&2; exit 1`)
	_, err = gh.CreateProposal(context.Background(), req)
	assert.ErrorContains(t, err, "Head sha")
}
