// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"fmt"
	"strings"
)

// Subject is a one line summary, used as the notification subject.
func (s *RunSummary) Subject() string {
	state := "done"
	if s.Err != nil {
		state = "failed"
	}
	mode := s.Mode.String()
	if s.DryRun && s.Mode != ModeDryRun {
		mode += " (dry run)"
	}
	subject := fmt.Sprintf("gitmirror %s %s", mode, state)
	if s.Host != "" {
		subject += " on " + s.Host
	}
	return subject
}

// Render returns the human readable report of the run. Only non-empty categories are listed.
func (s *RunSummary) Render() string {
	var b strings.Builder
	log := func(format string, a ...any) {
		fmt.Fprintf(&b, format, a...)
	}

	log("%s\n", s.Subject())
	if s.Host != "" {
		log("Device: %s\n", s.Host)
	}
	log("Time: %s UTC (took %s)\n", s.Start.UTC().Format("2006-01-02 15:04:05"), s.End.Sub(s.Start).Round(1e6))
	log("Output: %s\n", s.OutputDir)
	if s.Err != nil {
		log("Error: %v\n", s.Err)
	}

	list := func(title string, names []string) {
		if len(names) == 0 {
			return
		}
		log("%s: %d repos\n", title, len(names))
		for _, name := range names {
			log("  - %s\n", name)
		}
	}

	list("Cloned", s.Cloned)
	list("Pulled", s.Pulled)
	list("Updated", s.Updated)
	if len(s.Committed) > 0 {
		log("Committed to %s: %d repos\n", s.Branch, len(s.Committed))
		for _, name := range s.Committed {
			log("  - %s\n", name)
		}
	}
	if len(s.Proposed) > 0 {
		log("Proposed: %d repos\n", len(s.Proposed))
		for _, p := range s.Proposed {
			log("  - %s: %s\n", p.Name, p.URL)
		}
	}
	if len(s.Failed) > 0 {
		log("Failed: %d repos\n", len(s.Failed))
		for _, f := range s.Failed {
			log("  - %s (%s: %s)\n", f.Name, f.Step, f.Reason)
		}
	}
	if len(s.Skipped) > 0 {
		log("Skipped: %d repos\n", len(s.Skipped))
		for _, skip := range s.Skipped {
			log("  - %s (%s)\n", skip.Name, skip.Reason)
		}
	}
	if len(s.Planned) > 0 {
		log("Would act on: %d repos\n", len(s.Planned))
		for _, p := range s.Planned {
			log("  - %s: %s\n", p.Name, p.Detail)
		}
	}
	if len(s.Statuses) > 0 {
		log("Status: %d repos\n", len(s.Statuses))
		for _, st := range s.Statuses {
			log("  - %s: %s\n", st.Name, describeState(st))
		}
	}
	if len(s.Warnings) > 0 {
		log("Warnings:\n")
		for _, w := range s.Warnings {
			log("  - %s\n", w)
		}
	}
	return b.String()
}

func describeState(st RepoStatus) string {
	state := st.State
	if !state.Exists {
		return "not present"
	}
	branch := state.CurrentBranch
	if branch == "" {
		branch = "(detached)"
	}
	parts := []string{branch}
	if state.TrackingRemoteOK {
		parts = append(parts, fmt.Sprintf("ahead %d, behind %d", state.Ahead, state.Behind))
	} else {
		parts = append(parts, "no upstream")
	}
	if state.IsDirty {
		parts = append(parts, "dirty ("+state.Changes+")")
	} else {
		parts = append(parts, "clean")
	}
	line := strings.Join(parts, ", ")
	if st.BranchWarning != "" {
		line += " [" + st.BranchWarning + "]"
	}
	return line
}
