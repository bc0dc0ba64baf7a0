// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bep/helpers/envhelpers"
	"github.com/rogpeppe/go-internal/testscript"
)

func TestScripts(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found")
	}
	params := commonTestScriptsParam
	params.Dir = "testscripts"
	// params.TestWork = true
	// params.UpdateScripts = true
	testscript.Run(t, params)
}

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"gitmirror": main,
	})
}

// gitEnv isolates git from the user's configuration.
var gitEnv = []string{
	"GIT_AUTHOR_NAME", "Tests",
	"GIT_AUTHOR_EMAIL", "tests@example.com",
	"GIT_COMMITTER_NAME", "Tests",
	"GIT_COMMITTER_EMAIL", "tests@example.com",
	"GIT_CONFIG_NOSYSTEM", "1",
	"GIT_CONFIG_COUNT", "1",
	"GIT_CONFIG_KEY_0", "init.defaultBranch",
	"GIT_CONFIG_VALUE_0", "main",
}

func testSetupFunc() func(env *testscript.Env) error {
	sourceDir, _ := os.Getwd()
	isGitHubActions := os.Getenv("GITHUB_ACTIONS") != ""
	return func(env *testscript.Env) error {
		var keyVals []string
		// Add some environment variables to the test script.
		keyVals = append(keyVals, "SOURCE", sourceDir)
		keyVals = append(keyVals, "GITHUB_ACTIONS", fmt.Sprintf("%v", isGitHubActions))
		keyVals = append(keyVals, "HOME", env.WorkDir)
		keyVals = append(keyVals, "XDG_CONFIG_HOME", filepath.Join(env.WorkDir, ".config"))
		keyVals = append(keyVals, gitEnv...)
		envhelpers.SetEnvVars(&env.Vars, keyVals...)

		return nil
	}
}

// git runs git in dir with the script's environment.
func git(ts *testscript.TestScript, dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for _, k := range []string{"HOME", "XDG_CONFIG_HOME"} {
		cmd.Env = append(cmd.Env, k+"="+ts.Getenv(k))
	}
	for i := 0; i < len(gitEnv); i += 2 {
		cmd.Env = append(cmd.Env, gitEnv[i]+"="+gitEnv[i+1])
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		ts.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

// pushChange clones the bare remote, writes file and pushes the commit.
func pushChange(ts *testscript.TestScript, remote, file, content, message string) {
	tmp, err := os.MkdirTemp(ts.MkAbs("."), ".push-")
	if err != nil {
		ts.Fatalf("%v", err)
	}
	defer os.RemoveAll(tmp)
	git(ts, tmp, "clone", "--quiet", remote, "work")
	work := filepath.Join(tmp, "work")
	if err := os.WriteFile(filepath.Join(work, file), []byte(content), 0o644); err != nil {
		ts.Fatalf("%v", err)
	}
	git(ts, work, "add", "--all")
	git(ts, work, "commit", "--quiet", "-m", message)
	git(ts, work, "push", "--quiet", "origin", "HEAD")
}

var commonTestScriptsParam = testscript.Params{
	Setup: func(env *testscript.Env) error {
		return testSetupFunc()(env)
	},
	Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
		// initremote creates bare repositories remotes/NAME.git with one commit on main.
		"initremote": func(ts *testscript.TestScript, neg bool, args []string) {
			if len(args) == 0 {
				ts.Fatalf("usage: initremote NAME...")
			}
			for _, name := range args {
				remote := ts.MkAbs(filepath.Join("remotes", name+".git"))
				if err := os.MkdirAll(remote, 0o755); err != nil {
					ts.Fatalf("%v", err)
				}
				git(ts, remote, "init", "--quiet", "--bare")
				pushChange(ts, remote, "README.md", "# "+name+"\n", "Initial commit")
			}
		},
		// remotecommit pushes a commit writing FILE with TEXT to remotes/NAME.git.
		"remotecommit": func(ts *testscript.TestScript, neg bool, args []string) {
			if len(args) < 3 {
				ts.Fatalf("usage: remotecommit NAME FILE TEXT")
			}
			remote := ts.MkAbs(filepath.Join("remotes", args[0]+".git"))
			pushChange(ts, remote, args[1], strings.Join(args[2:], " ")+"\n", "Update "+args[1])
		},
		// tree lists a directory recursively to stdout as a simple tree.
		"tree": func(ts *testscript.TestScript, neg bool, args []string) {
			dirname := ts.MkAbs(args[0])

			err := filepath.WalkDir(dirname, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					return nil
				}
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return err
				}
				nodeType := "dir"
				for _, entry := range entries {
					if entry.IsDir() && entry.Name() == ".git" {
						nodeType = "git"
						break
					}
				}
				rel, err := filepath.Rel(dirname, path)
				if err != nil {
					return err
				}
				if rel == "." {
					fmt.Fprintf(ts.Stdout(), ". (%s)\n", nodeType)
					return nil
				}
				depth := strings.Count(rel, string(os.PathSeparator))
				prefix := strings.Repeat("  ", depth) + "└─"
				fmt.Fprintf(ts.Stdout(), "%s%s:%s/\n", prefix, nodeType, d.Name())
				if nodeType == "git" {
					return filepath.SkipDir
				}
				return nil
			})
			if err != nil {
				ts.Fatalf("%v", err)
			}
		},
		// append appends to a file with a leading newline.
		"append": func(ts *testscript.TestScript, neg bool, args []string) {
			if len(args) < 2 {
				ts.Fatalf("usage: append FILE TEXT")
			}

			filename := ts.MkAbs(args[0])
			words := args[1:]
			for i, word := range words {
				words[i] = strings.Trim(word, "\"")
			}
			text := strings.Join(words, " ")

			_, err := os.Stat(filename)
			if err != nil {
				if os.IsNotExist(err) {
					ts.Fatalf("file does not exist: %s", filename)
				}
				ts.Fatalf("failed to stat file: %v", err)
			}

			f, err := os.OpenFile(filename, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				ts.Fatalf("failed to open file: %v", err)
			}
			defer f.Close()

			_, err = f.WriteString("\n" + text)
			if err != nil {
				ts.Fatalf("failed to write to file: %v", err)
			}
		},
	},
}
