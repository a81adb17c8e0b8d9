package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stash/internal/locator"
	"github.com/starford/stash/internal/stashservice"
	"github.com/starford/stash/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendFS     = "fs"
	BackendGitHub = "github"
	BackendMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Store StoreConfig       `yaml:"store"`
	Stash StashConfig       `yaml:"stash"`
	Cache CacheConfig       `yaml:"cache"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Stash.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects and configures the category storage backend.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	FS      FSConfig     `yaml:"fs"`
	GitHub  GitHubConfig `yaml:"github"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendFS, BackendGitHub, BackendMemory)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BackendFS:
		return c.FS.Validate()
	case BackendGitHub:
		return c.GitHub.Validate()
	}
	return nil
}

// FSConfig holds the repository directory; categories live in Root/stashes.
type FSConfig struct {
	Root string `yaml:"root"`
}

// Dir returns the directory holding category files.
func (c *FSConfig) Dir() string {
	return filepath.Join(c.Root, storage.DefaultRemoteDir)
}

// Validate validates the filesystem configuration.
func (c *FSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// GitHubConfig holds the repository coordinates for the remote backend.
type GitHubConfig struct {
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Dir     string `yaml:"dir"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	if c.Dir == "" {
		c.Dir = storage.DefaultRemoteDir
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Token, validation.Required),
	)
}

// StashConfig tunes the stash service.
type StashConfig struct {
	MaxNoteBytes  int           `yaml:"max_note_bytes"`
	LocatorBudget time.Duration `yaml:"locator_budget"`
	HeaderLimit   int           `yaml:"header_limit"`
}

// Validate validates the stash configuration.
func (c *StashConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxNoteBytes, validation.Required, validation.Min(1)),
		validation.Field(&c.LocatorBudget, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.HeaderLimit, validation.Required, validation.Min(64)),
	)
}

// CacheConfig holds the response cache location. An empty Path disables caching.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether a cache file is configured.
func (c *CacheConfig) Enabled() bool {
	return c.Path != ""
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend: BackendFS,
			FS: FSConfig{
				Root: "./data",
			},
			GitHub: GitHubConfig{
				Dir: storage.DefaultRemoteDir,
			},
		},
		Stash: StashConfig{
			MaxNoteBytes:  stashservice.DefaultMaxNoteBytes,
			LocatorBudget: locator.DefaultBudget,
			HeaderLimit:   locator.DefaultHeaderLimit,
		},
		Cache: CacheConfig{
			Path: "./stash-cache.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
