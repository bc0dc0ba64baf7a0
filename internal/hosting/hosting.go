// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package hosting implements repository inventories and merge proposals for
// the supported hosting platforms.
package hosting

import (
	"context"
	"fmt"
	"strings"

	"github.com/bep/gitmirror/internal/lib"
)

const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
	ProviderGH     = "gh"
	ProviderFile   = "file"
)

// Providers lists the valid provider names.
var Providers = []string{ProviderGitHub, ProviderGitLab, ProviderGH, ProviderFile}

// DefaultLimit is used when ListRepositories is called without a positive limit.
const DefaultLimit = 1000

// Provider lists repositories and creates merge proposals on one platform.
type Provider interface {
	lib.Inventory
	lib.Proposer
}

type Config struct {
	Provider string
	Token    string
	// BaseURL points the API clients at an enterprise or self-managed instance.
	BaseURL string
	// InventoryFile is read by the file provider.
	InventoryFile string
	// GHBinary is the GitHub CLI executable, "gh" when empty.
	GHBinary string
}

// New creates the provider named in cfg.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderGitHub, "":
		return NewGitHub(ctx, cfg.Token, cfg.BaseURL)
	case ProviderGitLab:
		return NewGitLab(cfg.Token, cfg.BaseURL)
	case ProviderGH:
		return &GH{Binary: cfg.GHBinary}, nil
	case ProviderFile:
		if cfg.InventoryFile == "" {
			return nil, fmt.Errorf("provider %q requires an inventory file", cfg.Provider)
		}
		return &File{Path: cfg.InventoryFile}, nil
	}
	return nil, fmt.Errorf("unknown provider %q, valid providers are %s", cfg.Provider, strings.Join(Providers, ", "))
}

func splitFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repository %q has no owner", fullName)
	}
	return owner, name, nil
}

func limitOrDefault(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	return limit
}
