// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bep/gitmirror/internal/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xanzy/go-gitlab"
)

func gitlabProject(namespace, path string) map[string]any {
	return map[string]any{
		"id":                  1,
		"path":                path,
		"path_with_namespace": namespace + "/" + path,
		"http_url_to_repo":    "https://gitlab.com/" + namespace + "/" + path + ".git",
		"ssh_url_to_repo":     "git@gitlab.com:" + namespace + "/" + path + ".git",
		"archived":            false,
		"default_branch":      "main",
	}
}

func newTestGitLab(t *testing.T, token string, handler http.HandlerFunc) *GitLab {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGitLab(token, srv.URL)
	require.NoError(t, err)
	return g
}

func TestGitLabListRepositories(t *testing.T) {
	g := newTestGitLab(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/projects" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		assert.Equal(t, "true", r.URL.Query().Get("owned"))
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("X-Next-Page", "2")
			writeJSON(t, w, http.StatusOK, []any{gitlabProject("bep", "a")})
		case "2":
			writeJSON(t, w, http.StatusOK, []any{gitlabProject("bep", "b")})
		}
	})
	repos, err := g.ListRepositories(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []lib.RepositoryDescriptor{
		{Name: "a", FullName: "bep/a", CloneURLHTTPS: "https://gitlab.com/bep/a.git", CloneURLSSH: "git@gitlab.com:bep/a.git", DefaultBranch: "main"},
		{Name: "b", FullName: "bep/b", CloneURLHTTPS: "https://gitlab.com/bep/b.git", CloneURLSSH: "git@gitlab.com:bep/b.git", DefaultBranch: "main"},
	}, repos)
}

func TestGitLabListRepositoriesGroupFallsBackToUser(t *testing.T) {
	g := newTestGitLab(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/groups/bep/projects":
			writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "404 Group Not Found"})
		case "/api/v4/users/bep/projects":
			writeJSON(t, w, http.StatusOK, []any{gitlabProject("bep", "a")})
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	repos, err := g.ListRepositories(context.Background(), "bep", 10)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "bep/a", repos[0].FullName)
}

func TestGitLabListRepositoriesUnknownOwner(t *testing.T) {
	var calls []string
	g := newTestGitLab(t, "", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "404 Not Found"})
	})
	_, err := g.ListRepositories(context.Background(), "nobody", 10)
	assert.True(t, errors.Is(err, gitlab.ErrNotFound))
	assert.False(t, errors.Is(err, lib.ErrAuthRequired))
	assert.Equal(t, []string{"/api/v4/groups/nobody/projects", "/api/v4/users/nobody/projects"}, calls)
}

func TestGitLabListRepositoriesAuth(t *testing.T) {
	g := newTestGitLab(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := g.ListRepositories(context.Background(), "", 10)
	assert.True(t, errors.Is(err, lib.ErrAuthRequired))

	g = newTestGitLab(t, "expired", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/projects" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]any{"message": "401 Unauthorized"})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	_, err = g.ListRepositories(context.Background(), "", 10)
	assert.True(t, errors.Is(err, lib.ErrAuthRequired))
}

func TestGitLabCreateProposal(t *testing.T) {
	req := lib.ProposalRequest{
		Repo:  lib.RepositoryDescriptor{Name: "c", FullName: "bep/c"},
		Head:  "feature/2026-03-07-laptop",
		Base:  "main",
		Title: "Auto-sync 2026-03-07",
	}

	g := newTestGitLab(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/merge_requests") {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/api/v4/projects/bep%2Fc/merge_requests", r.URL.EscapedPath())
		writeJSON(t, w, http.StatusCreated, map[string]any{"iid": 4, "web_url": "https://gitlab.com/bep/c/-/merge_requests/4"})
	})
	url, err := g.CreateProposal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com/bep/c/-/merge_requests/4", url)

	t.Run("already exists", func(t *testing.T) {
		g := newTestGitLab(t, "secret", func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/merge_requests") {
				w.WriteHeader(http.StatusOK)
				return
			}
			switch r.Method {
			case http.MethodPost:
				writeJSON(t, w, http.StatusConflict, map[string]any{"message": []string{"Another open merge request already exists for this source branch: !2"}})
			case http.MethodGet:
				assert.Equal(t, "opened", r.URL.Query().Get("state"))
				assert.Equal(t, "feature/2026-03-07-laptop", r.URL.Query().Get("source_branch"))
				writeJSON(t, w, http.StatusOK, []any{map[string]any{"iid": 2, "web_url": "https://gitlab.com/bep/c/-/merge_requests/2"}})
			}
		})
		url, err := g.CreateProposal(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "https://gitlab.com/bep/c/-/merge_requests/2", url)
	})
}
