// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package hostid identifies the machine a run happens on.
package hostid

import (
	"os"
	"os/user"
	"runtime"
	"strings"
)

const maxSuffixLen = 24

// Sanitize turns a host name into something usable in a branch name:
// lower case ASCII letters, digits and single dashes, at most 24 characters.
func Sanitize(host string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(host) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if len(s) > maxSuffixLen {
		s = strings.TrimRight(s[:maxSuffixLen], "-")
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// Hostname returns the host name, "unknown" when it cannot be determined.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// Describe returns a human readable identity, e.g. "mbp (darwin, bep)".
func Describe() string {
	d := Hostname() + " (" + runtime.GOOS
	if u, err := user.Current(); err == nil && u.Username != "" {
		d += ", " + u.Username
	}
	return d + ")"
}
