// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gitmirror configuration file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvGHToken       = "GH_TOKEN"
	EnvGitLabToken   = "GITLAB_TOKEN"
	EnvSMTPPassword  = "GITMIRROR_SMTP_PASSWORD"
	secretURLTimeout = 10 * time.Second
)

type Config struct {
	OutputDir string `yaml:"output_dir"`
	Provider  string `yaml:"provider" validate:"oneof=github gitlab gh file"`
	Owner     string `yaml:"owner"`
	Limit     int    `yaml:"limit" validate:"gte=1"`

	IncludeArchived bool       `yaml:"include_archived"`
	Exclude         StringList `yaml:"exclude"`
	Only            StringList `yaml:"only"`

	SSH     bool `yaml:"ssh"`
	Shallow bool `yaml:"shallow"`
	Jobs    int  `yaml:"jobs" validate:"gte=1,lte=64"`

	RequireBranch               string `yaml:"require_branch"`
	PullOnlyRestrictToInventory bool   `yaml:"pull_only_restrict_to_inventory"`
	Propose                     bool   `yaml:"propose"`
	HostSuffix                  string `yaml:"host_suffix"`
	InventoryFile               string `yaml:"inventory_file" validate:"required_if=Provider file"`
	MetricsFile                 string `yaml:"metrics_file"`

	GitHub API    `yaml:"github"`
	GitLab API    `yaml:"gitlab"`
	Notify Notify `yaml:"notify"`
	Log    Log    `yaml:"log"`
}

// API configures a hosting platform client.
type API struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// Notify configures the summary email. It is sent when both To and SMTPHost are set.
type Notify struct {
	To              string `yaml:"to" validate:"omitempty,email"`
	From            string `yaml:"from" validate:"omitempty,email"`
	SMTPHost        string `yaml:"smtp_host" validate:"required_with=To"`
	SMTPPort        int    `yaml:"smtp_port" validate:"gte=1,lte=65535"`
	SMTPUser        string `yaml:"smtp_user"`
	SMTPPassword    string `yaml:"smtp_password"`
	SMTPPasswordURL string `yaml:"smtp_password_url" validate:"omitempty,url"`
}

func (n Notify) Enabled() bool {
	return n.To != "" && n.SMTPHost != ""
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// StringList is a list of strings written either as a YAML sequence or as a
// comma separated string.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = SplitList(value.Value)
		return nil
	}
	var s []string
	if err := value.Decode(&s); err != nil {
		return err
	}
	*l = s
	return nil
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		OutputDir:       ".",
		Provider:        "github",
		Limit:           1000,
		IncludeArchived: true,
		Jobs:            1,
		Propose:         true,
		Notify:          Notify{SMTPPort: 587},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/gitmirror/config.yaml or the OS equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gitmirror", "config.yaml"), nil
}

// Load reads the configuration at path on top of the defaults and applies
// the environment overrides from getenv. An empty path loads the default
// path, which may be missing. JSON files are read as YAML.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, fmt.Errorf("could not find the user's config directory: %w", err)
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}
	cfg.OutputDir = expandHome(cfg.OutputDir)
	if cfg.InventoryFile != "" {
		cfg.InventoryFile = expandHome(cfg.InventoryFile)
	}
	return &cfg, nil
}

// ApplyEnv sets the tokens and the SMTP password from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for _, k := range []string{EnvGitHubToken, EnvGHToken} {
		if v := getenv(k); v != "" {
			c.GitHub.Token = v
			break
		}
	}
	if v := getenv(EnvGitLabToken); v != "" {
		c.GitLab.Token = v
	}
	if v := getenv(EnvSMTPPassword); v != "" {
		c.Notify.SMTPPassword = v
	}
}

// Token returns the API token of the configured provider.
func (c *Config) Token() string {
	if c.Provider == "gitlab" {
		return c.GitLab.Token
	}
	return c.GitHub.Token
}

// BaseURL returns the API base URL of the configured provider.
func (c *Config) BaseURL() string {
	if c.Provider == "gitlab" {
		return c.GitLab.BaseURL
	}
	return c.GitHub.BaseURL
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	// Report the key names used in the file.
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s=%s)", key, fe.Value(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s)", key, fe.Value(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ResolveSecrets fetches the SMTP password from smtp_password_url when no
// password is configured. client may be nil.
func (c *Config) ResolveSecrets(ctx context.Context, client *http.Client) error {
	if c.Notify.SMTPPassword != "" || c.Notify.SMTPPasswordURL == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, secretURLTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Notify.SMTPPasswordURL, nil)
	if err != nil {
		return fmt.Errorf("smtp_password_url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("smtp_password_url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("smtp_password_url: unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("smtp_password_url: %w", err)
	}
	c.Notify.SMTPPassword = strings.TrimSpace(string(b))
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
