// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bep/gitmirror/internal/lib"
	"gopkg.in/yaml.v3"
)

// File is a static inventory read from disk. Files ending in .txt list one
// host/owner/repo per line, e.g. github.com/bep/gitjoin; anything else is YAML:
//
//	repositories:
//	  - name: gitjoin
//	    full_name: bep/gitjoin
//	    clone_url: https://github.com/bep/gitjoin.git
//	    ssh_url: git@github.com:bep/gitjoin.git
//	    archived: false
//	    default_branch: main
//
// Relative local clone URLs are resolved against the directory of the file.
type File struct {
	Path string
}

type fileInventory struct {
	Repositories []fileRepo `yaml:"repositories"`
}

type fileRepo struct {
	Name          string `yaml:"name"`
	FullName      string `yaml:"full_name"`
	CloneURL      string `yaml:"clone_url"`
	SSHURL        string `yaml:"ssh_url"`
	Archived      bool   `yaml:"archived"`
	DefaultBranch string `yaml:"default_branch"`
}

// ListRepositories reads the file. A non-empty owner keeps the repositories whose
// full name starts with owner/.
func (f *File) ListRepositories(ctx context.Context, owner string, limit int) ([]lib.RepositoryDescriptor, error) {
	var (
		repos []lib.RepositoryDescriptor
		err   error
	)
	if filepath.Ext(f.Path) == ".txt" {
		repos, err = f.readRepoList()
	} else {
		repos, err = f.readYAML()
	}
	if err != nil {
		return nil, err
	}

	limit = limitOrDefault(limit)
	var out []lib.RepositoryDescriptor
	for _, r := range repos {
		if owner != "" && !strings.HasPrefix(r.FullName, owner+"/") {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateProposal is a no-op: a static inventory knows no hosting platform.
func (f *File) CreateProposal(ctx context.Context, req lib.ProposalRequest) (string, error) {
	return "", nil
}

func (f *File) readYAML() ([]lib.RepositoryDescriptor, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var inv fileInventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", f.Path, err)
	}

	dir := filepath.Dir(f.Path)
	repos := make([]lib.RepositoryDescriptor, 0, len(inv.Repositories))
	for i, r := range inv.Repositories {
		d := lib.RepositoryDescriptor{
			Name:          r.Name,
			FullName:      r.FullName,
			CloneURLHTTPS: resolveLocalURL(dir, r.CloneURL),
			CloneURLSSH:   resolveLocalURL(dir, r.SSHURL),
			IsArchived:    r.Archived,
			DefaultBranch: r.DefaultBranch,
		}
		if d.Name == "" {
			d.Name = nameFromURL(d.FullName, r.CloneURL, r.SSHURL)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("%s: repository %d has neither name nor URL", f.Path, i+1)
		}
		if d.CloneURLHTTPS == "" && d.CloneURLSSH == "" {
			return nil, fmt.Errorf("%s: repository %q has no clone URL", f.Path, d.Name)
		}
		repos = append(repos, d)
	}
	return repos, nil
}

func (f *File) readRepoList() ([]lib.RepositoryDescriptor, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var repos []lib.RepositoryDescriptor
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		host, fullName, ok := strings.Cut(line, "/")
		if !ok || !strings.Contains(fullName, "/") {
			return nil, fmt.Errorf("%s: invalid repository %q, expected host/owner/repo", f.Path, line)
		}
		repos = append(repos, lib.RepositoryDescriptor{
			Name:          path.Base(fullName),
			FullName:      fullName,
			CloneURLHTTPS: fmt.Sprintf("https://%s/%s.git", host, fullName),
			CloneURLSSH:   fmt.Sprintf("git@%s:%s.git", host, fullName),
		})
	}
	return repos, scanner.Err()
}

// resolveLocalURL resolves relative filesystem paths; URLs and scp-like
// addresses (git@host:path) are returned unchanged.
func resolveLocalURL(dir, u string) string {
	if u == "" || filepath.IsAbs(u) || strings.Contains(u, ":") {
		return u
	}
	abs, err := filepath.Abs(filepath.Join(dir, u))
	if err != nil {
		return filepath.Join(dir, u)
	}
	return abs
}

func nameFromURL(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSuffix(strings.TrimRight(c, "/"), ".git")
		if i := strings.LastIndexAny(c, "/:"); i >= 0 {
			c = c[i+1:]
		}
		if c != "" {
			return c
		}
	}
	return ""
}
