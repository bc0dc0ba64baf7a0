// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bep/gitmirror/internal/lib"
	"github.com/xanzy/go-gitlab"
)

// GitLab talks to the GitLab REST API.
type GitLab struct {
	client        *gitlab.Client
	authenticated bool
}

// NewGitLab creates a GitLab provider; baseURL defaults to gitlab.com.
func NewGitLab(token, baseURL string) (*GitLab, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	glc, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &GitLab{client: glc, authenticated: token != ""}, nil
}

// ListRepositories lists the projects owned by the authenticated user when
// owner is empty, else those of the group or user named owner.
func (g *GitLab) ListRepositories(ctx context.Context, owner string, limit int) ([]lib.RepositoryDescriptor, error) {
	if owner == "" && !g.authenticated {
		return nil, fmt.Errorf("%w: a GitLab token is needed to list your projects", lib.ErrAuthRequired)
	}
	limit = limitOrDefault(limit)
	opts := gitlab.ListOptions{Page: 1, PerPage: min(100, limit)}

	var (
		repos  []lib.RepositoryDescriptor
		byUser = owner == ""
	)
	for {
		page, resp, err := g.listPage(ctx, owner, byUser, opts)
		if err != nil && !byUser && gitlabStatus(err) == http.StatusNotFound {
			// Not a group.
			byUser = true
			continue
		}
		if err != nil {
			return nil, gitlabError(err)
		}
		for _, p := range page {
			repos = append(repos, lib.RepositoryDescriptor{
				Name:          p.Path,
				FullName:      p.PathWithNamespace,
				CloneURLHTTPS: p.HTTPURLToRepo,
				CloneURLSSH:   p.SSHURLToRepo,
				IsArchived:    p.Archived,
				DefaultBranch: p.DefaultBranch,
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

func (g *GitLab) listPage(ctx context.Context, owner string, byUser bool, opts gitlab.ListOptions) ([]*gitlab.Project, *gitlab.Response, error) {
	switch {
	case owner == "":
		return g.client.Projects.ListProjects(&gitlab.ListProjectsOptions{
			ListOptions: opts,
			Owned:       gitlab.Ptr(true),
		}, gitlab.WithContext(ctx))
	case byUser:
		return g.client.Projects.ListUserProjects(owner, &gitlab.ListProjectsOptions{ListOptions: opts}, gitlab.WithContext(ctx))
	default:
		return g.client.Groups.ListGroupProjects(owner, &gitlab.ListGroupProjectsOptions{ListOptions: opts}, gitlab.WithContext(ctx))
	}
}

// CreateProposal opens a merge request. An open merge request for the same
// source branch resolves to its URL.
func (g *GitLab) CreateProposal(ctx context.Context, req lib.ProposalRequest) (string, error) {
	if _, _, err := splitFullName(req.Repo.FullName); err != nil {
		return "", err
	}
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(req.Repo.FullName, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(req.Title),
		Description:  gitlab.Ptr(req.Body),
		SourceBranch: gitlab.Ptr(req.Head),
		TargetBranch: gitlab.Ptr(req.Base),
	}, gitlab.WithContext(ctx))
	if err == nil {
		return mr.WebURL, nil
	}
	if gitlabStatus(err) != http.StatusConflict {
		return "", gitlabError(err)
	}
	mrs, _, lerr := g.client.MergeRequests.ListProjectMergeRequests(req.Repo.FullName, &gitlab.ListProjectMergeRequestsOptions{
		State:        gitlab.Ptr("opened"),
		SourceBranch: gitlab.Ptr(req.Head),
		TargetBranch: gitlab.Ptr(req.Base),
	}, gitlab.WithContext(ctx))
	if lerr != nil {
		return "", gitlabError(lerr)
	}
	if len(mrs) == 0 {
		return "", gitlabError(err)
	}
	return mrs[0].WebURL, nil
}

func gitlabStatus(err error) int {
	if errors.Is(err, gitlab.ErrNotFound) {
		return http.StatusNotFound
	}
	var rerr *gitlab.ErrorResponse
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode
	}
	return 0
}

func gitlabError(err error) error {
	if gitlabStatus(err) == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", lib.ErrAuthRequired, err)
	}
	return err
}
