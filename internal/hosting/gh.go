// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/bep/gitmirror/internal/lib"
)

// GH drives the GitHub CLI and reuses its login.
type GH struct {
	// Binary is the gh executable, "gh" when empty.
	Binary string
}

type ghRepo struct {
	Name             string `json:"name"`
	NameWithOwner    string `json:"nameWithOwner"`
	URL              string `json:"url"`
	SSHURL           string `json:"sshUrl"`
	IsArchived       bool   `json:"isArchived"`
	DefaultBranchRef struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef"`
}

func (g *GH) ListRepositories(ctx context.Context, owner string, limit int) ([]lib.RepositoryDescriptor, error) {
	if _, err := g.run(ctx, "", "auth", "status"); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("the GitHub CLI is not installed, see https://cli.github.com: %w", err)
		}
		return nil, fmt.Errorf("%w: gh is not logged in, run 'gh auth login': %v", lib.ErrAuthRequired, err)
	}

	args := []string{"repo", "list"}
	if owner != "" {
		args = append(args, owner)
	}
	args = append(args,
		"--limit", strconv.Itoa(limitOrDefault(limit)),
		"--json", "name,nameWithOwner,url,sshUrl,isArchived,defaultBranchRef",
	)
	out, err := g.run(ctx, "", args...)
	if err != nil {
		return nil, err
	}

	var list []ghRepo
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return nil, fmt.Errorf("failed to parse gh repo list output: %w", err)
	}
	repos := make([]lib.RepositoryDescriptor, 0, len(list))
	for _, r := range list {
		repos = append(repos, lib.RepositoryDescriptor{
			Name:          r.Name,
			FullName:      r.NameWithOwner,
			CloneURLHTTPS: r.URL + ".git",
			CloneURLSSH:   r.SSHURL,
			IsArchived:    r.IsArchived,
			DefaultBranch: r.DefaultBranchRef.Name,
		})
	}
	return repos, nil
}

var pullURLRe = regexp.MustCompile(`https://\S+/pull/\d+`)

// CreateProposal runs gh pr create in the working copy. An existing pull
// request for the branch resolves to its URL.
func (g *GH) CreateProposal(ctx context.Context, req lib.ProposalRequest) (string, error) {
	out, err := g.run(ctx, req.Path, "pr", "create",
		"--base", req.Base,
		"--head", req.Head,
		"--title", req.Title,
		"--body", req.Body,
	)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			if url := pullURLRe.FindString(err.Error()); url != "" {
				return url, nil
			}
		}
		return "", err
	}
	if url := pullURLRe.FindString(out); url != "" {
		return url, nil
	}
	return strings.TrimSpace(out), nil
}

func (g *GH) run(ctx context.Context, dir string, args ...string) (string, error) {
	binary := g.Binary
	if binary == "" {
		binary = "gh"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh %s: %w: %s", strings.Join(args[:min(2, len(args))], " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
