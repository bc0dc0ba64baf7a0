// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthRequired is returned by inventory sources when the account needs
// (re-)authentication before repositories can be listed.
var ErrAuthRequired = errors.New("authentication required")

// ErrFinalized is returned when recording into an Aggregator that has been finalized.
var ErrFinalized = errors.New("summary already finalized")

// InventoryError aborts a run: without an inventory there is nothing to reconcile.
type InventoryError struct {
	Provider string
	Err      error
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("list repositories (%s): %v", e.Provider, e.Err)
}

func (e *InventoryError) Unwrap() error { return e.Err }

// RepoError is a failure isolated to one repository.
type RepoError struct {
	Name string
	// Step is the failed pipeline step: probe, clone, pull, branch, commit, push or propose.
	Step string
	// Reason is the user facing reason; Err carries the diagnostics.
	Reason string
	Err    error
}

func (e *RepoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Name, e.Step, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Name, e.Step, e.Reason, e.Err)
}

func (e *RepoError) Unwrap() error { return e.Err }

// NotificationError is logged and never fails a run.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string { return "notify: " + e.Err.Error() }

func (e *NotificationError) Unwrap() error { return e.Err }

// firstLine trims diagnostics to something that fits in a report line.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
