// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package schedule installs a daily gitmirror sync with the OS scheduler:
// a launchd LaunchAgent on macOS, a systemd user timer on Linux and a
// scheduled task on Windows.
package schedule

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

const (
	launchdLabel = "com.bep.gitmirror.sync"
	systemdUnit  = "gitmirror-sync"
	windowsTask  = "gitmirror-daily-sync"
)

// Job is the scheduled command.
type Job struct {
	// Binary is the absolute path of the gitmirror executable.
	Binary     string
	OutputDir  string
	ConfigFile string
	// Hour and Minute are in local time.
	Hour   int
	Minute int
	// LogFile receives the output on macOS.
	LogFile string
}

// DefaultJob runs at 02:00.
func DefaultJob(binary, outputDir string) Job {
	return Job{Binary: binary, OutputDir: outputDir, Hour: 2}
}

// Args returns the command line of the job.
func (j Job) Args() []string {
	args := []string{j.Binary, "sync", "-o", j.OutputDir}
	if j.ConfigFile != "" {
		args = append(args, "--config", j.ConfigFile)
	}
	return args
}

// File is a rendered scheduler definition.
type File struct {
	Path    string
	Content string
}

// Scheduler manages the job for one operating system.
type Scheduler struct {
	// GOOS selects the scheduler: darwin, linux or windows.
	GOOS string
	Home string
	// Run executes scheduler commands, exec.CommandContext when nil.
	Run func(ctx context.Context, name string, args ...string) error
}

var ErrUnsupported = errors.New("scheduling is supported on macOS, Linux and Windows")

// Render returns the files Install writes. On Windows the task is created by
// command and the single File holds the command line.
func (s *Scheduler) Render(job Job) ([]File, error) {
	switch s.GOOS {
	case "darwin":
		content, err := execute(launchdTmpl, job)
		if err != nil {
			return nil, err
		}
		return []File{{Path: s.plistPath(), Content: content}}, nil
	case "linux":
		service, err := execute(serviceTmpl, job)
		if err != nil {
			return nil, err
		}
		timer, err := execute(timerTmpl, job)
		if err != nil {
			return nil, err
		}
		dir := s.systemdDir()
		return []File{
			{Path: filepath.Join(dir, systemdUnit+".service"), Content: service},
			{Path: filepath.Join(dir, systemdUnit+".timer"), Content: timer},
		}, nil
	case "windows":
		return []File{{Content: "schtasks " + strings.Join(schtasksCreateArgs(job), " ") + "\n"}}, nil
	}
	return nil, ErrUnsupported
}

// Print writes the rendered definitions to w.
func (s *Scheduler) Print(w io.Writer, job Job) error {
	files, err := s.Render(job)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Path != "" {
			fmt.Fprintf(w, "# %s\n", f.Path)
		}
		fmt.Fprint(w, f.Content)
	}
	return nil
}

// Install writes and activates the job, replacing an existing one.
func (s *Scheduler) Install(ctx context.Context, job Job) error {
	files, err := s.Render(job)
	if err != nil {
		return err
	}
	if s.GOOS == "windows" {
		return s.run(ctx, "schtasks", schtasksCreateArgs(job)...)
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(f.Path, []byte(f.Content), 0o644); err != nil {
			return err
		}
	}
	switch s.GOOS {
	case "darwin":
		// Unloading fails when the agent was never loaded.
		_ = s.run(ctx, "launchctl", "unload", s.plistPath())
		return s.run(ctx, "launchctl", "load", s.plistPath())
	default:
		if err := s.run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
			return err
		}
		return s.run(ctx, "systemctl", "--user", "enable", "--now", systemdUnit+".timer")
	}
}

// Remove deactivates and deletes the job. Removing a job that is not installed is not an error.
func (s *Scheduler) Remove(ctx context.Context) error {
	switch s.GOOS {
	case "darwin":
		_ = s.run(ctx, "launchctl", "unload", s.plistPath())
		return removeIfExists(s.plistPath())
	case "linux":
		_ = s.run(ctx, "systemctl", "--user", "disable", "--now", systemdUnit+".timer")
		for _, ext := range []string{".timer", ".service"} {
			if err := removeIfExists(filepath.Join(s.systemdDir(), systemdUnit+ext)); err != nil {
				return err
			}
		}
		return s.run(ctx, "systemctl", "--user", "daemon-reload")
	case "windows":
		err := s.run(ctx, "schtasks", "/delete", "/tn", windowsTask, "/f")
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "cannot find") {
			return nil
		}
		return err
	}
	return ErrUnsupported
}

func (s *Scheduler) plistPath() string {
	return filepath.Join(s.Home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func (s *Scheduler) systemdDir() string {
	return filepath.Join(s.Home, ".config", "systemd", "user")
}

func (s *Scheduler) run(ctx context.Context, name string, args ...string) error {
	if s.Run != nil {
		return s.Run(ctx, name, args...)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %v: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func schtasksCreateArgs(job Job) []string {
	quoted := make([]string, len(job.Args()))
	for i, a := range job.Args() {
		quoted[i] = windowsQuote(a)
	}
	return []string{
		"/create", "/tn", windowsTask,
		"/tr", strings.Join(quoted, " "),
		"/sc", "daily",
		"/st", fmt.Sprintf("%02d:%02d", job.Hour, job.Minute),
		"/f",
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func execute(tmpl *template.Template, job Job) (string, error) {
	var b bytes.Buffer
	if err := tmpl.Execute(&b, job); err != nil {
		return "", err
	}
	return b.String(), nil
}

var funcs = template.FuncMap{
	"xml": func(s string) (string, error) {
		var b bytes.Buffer
		if err := xml.EscapeText(&b, []byte(s)); err != nil {
			return "", err
		}
		return b.String(), nil
	},
	"systemd": func(args []string) string {
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = systemdQuote(a)
		}
		return strings.Join(quoted, " ")
	},
	"label": func() string { return launchdLabel },
}

func systemdQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\%$") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%", "$", "$$")
	return `"` + r.Replace(s) + `"`
}

func windowsQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

var launchdTmpl = template.Must(template.New("launchd").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{ label }}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args }}
		<string>{{ xml . }}</string>
{{- end }}
	</array>
	<key>StartCalendarInterval</key>
	<dict>
		<key>Hour</key>
		<integer>{{ .Hour }}</integer>
		<key>Minute</key>
		<integer>{{ .Minute }}</integer>
	</dict>
{{- if .LogFile }}
	<key>StandardOutPath</key>
	<string>{{ xml .LogFile }}</string>
	<key>StandardErrorPath</key>
	<string>{{ xml .LogFile }}</string>
{{- end }}
</dict>
</plist>
`))

var serviceTmpl = template.Must(template.New("service").Funcs(funcs).Parse(`[Unit]
Description=gitmirror daily sync

[Service]
Type=oneshot
ExecStart={{ systemd .Args }}
`))

// Persistent catches up on runs missed while the machine was off or asleep.
var timerTmpl = template.Must(template.New("timer").Funcs(funcs).Parse(`[Unit]
Description=gitmirror daily sync timer

[Timer]
OnCalendar=*-*-* {{ printf "%02d:%02d:00" .Hour .Minute }}
Persistent=true

[Install]
WantedBy=timers.target
`))
