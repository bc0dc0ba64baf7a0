// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bep/gitmirror/internal/lib"
	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
)

// GitHub talks to the GitHub REST API.
type GitHub struct {
	client        *github.Client
	authenticated bool
}

// NewGitHub creates a GitHub provider. Without a token only public
// repositories of a named owner can be listed.
func NewGitHub(ctx context.Context, token, baseURL string) (*GitHub, error) {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client, authenticated: token != ""}, nil
}

// ListRepositories lists the repositories owned by the authenticated user when
// owner is empty, else those of the organization or user named owner.
func (g *GitHub) ListRepositories(ctx context.Context, owner string, limit int) ([]lib.RepositoryDescriptor, error) {
	if owner == "" && !g.authenticated {
		return nil, fmt.Errorf("%w: a GitHub token is needed to list your repositories", lib.ErrAuthRequired)
	}
	limit = limitOrDefault(limit)
	opts := github.ListOptions{PerPage: min(100, limit), Page: 1}

	var (
		repos  []lib.RepositoryDescriptor
		byUser = owner == ""
	)
	for {
		page, resp, err := g.listPage(ctx, owner, byUser, opts)
		if err != nil && !byUser && isStatus(err, http.StatusNotFound) {
			// Not an organization.
			byUser = true
			continue
		}
		if err != nil {
			return nil, githubError(err)
		}
		for _, r := range page {
			repos = append(repos, lib.RepositoryDescriptor{
				Name:          r.GetName(),
				FullName:      r.GetFullName(),
				CloneURLHTTPS: r.GetCloneURL(),
				CloneURLSSH:   r.GetSSHURL(),
				IsArchived:    r.GetArchived(),
				DefaultBranch: r.GetDefaultBranch(),
			})
			if len(repos) >= limit {
				return repos, nil
			}
		}
		if resp.NextPage == 0 {
			return repos, nil
		}
		opts.Page = resp.NextPage
	}
}

func (g *GitHub) listPage(ctx context.Context, owner string, byUser bool, opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
	switch {
	case owner == "":
		return g.client.Repositories.List(ctx, "", &github.RepositoryListOptions{Affiliation: "owner", ListOptions: opts})
	case byUser:
		return g.client.Repositories.List(ctx, owner, &github.RepositoryListOptions{Type: "owner", ListOptions: opts})
	default:
		return g.client.Repositories.ListByOrg(ctx, owner, &github.RepositoryListByOrgOptions{ListOptions: opts})
	}
}

// CreateProposal opens a pull request. An open pull request for the same
// head resolves to its URL.
func (g *GitHub) CreateProposal(ctx context.Context, req lib.ProposalRequest) (string, error) {
	owner, repo, err := splitFullName(req.Repo.FullName)
	if err != nil {
		return "", err
	}
	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.Head),
		Base:  github.String(req.Base),
		Body:  github.String(req.Body),
	})
	if err == nil {
		return pr.GetHTMLURL(), nil
	}
	if !pullRequestExists(err) {
		return "", githubError(err)
	}
	prs, _, lerr := g.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + req.Head,
		Base:  req.Base,
	})
	if lerr != nil {
		return "", githubError(lerr)
	}
	if len(prs) == 0 {
		return "", githubError(err)
	}
	return prs[0].GetHTMLURL(), nil
}

func pullRequestExists(err error) bool {
	var rerr *github.ErrorResponse
	if !errors.As(err, &rerr) || rerr.Response == nil || rerr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(rerr.Message, "already exists") {
		return true
	}
	for _, e := range rerr.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	return false
}

func isStatus(err error, code int) bool {
	var rerr *github.ErrorResponse
	return errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == code
}

func githubError(err error) error {
	if isStatus(err, http.StatusUnauthorized) || badCredentials(err) {
		return fmt.Errorf("%w: %v", lib.ErrAuthRequired, err)
	}
	return err
}

// badCredentials reports a 403 for a rejected token. Rate limits and missing
// scopes are also 403s, but not authentication failures.
func badCredentials(err error) bool {
	var rerr *github.ErrorResponse
	return errors.As(err, &rerr) && rerr.Response != nil &&
		rerr.Response.StatusCode == http.StatusForbidden &&
		strings.Contains(rerr.Message, "Bad credentials")
}
