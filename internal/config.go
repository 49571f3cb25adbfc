package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/convert"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Library LibraryConfig     `yaml:"library"`
	Cache   CacheConfig       `yaml:"cache"`
	Import  ImportConfig      `yaml:"import"`
	Convert ConvertConfig     `yaml:"convert"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Import.Validate(); err != nil {
		return err
	}
	if err := c.Convert.Validate(); err != nil {
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

// LibraryConfig holds the image library location and watcher switch.
type LibraryConfig struct {
	Path string `yaml:"path"`
	// Watch enables the file watcher that auto-imports images dropped
	// into the library directory.
	Watch bool `yaml:"watch"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig holds the artifact cache database and admission limits.
type CacheConfig struct {
	Path string `yaml:"path"`
	// MaxBytes bounds the total size of cached artifacts; zero means
	// unbounded.
	MaxBytes int64 `yaml:"max_bytes"`
	// MaxItemBytes is the largest single artifact admitted; zero means
	// no per-item limit.
	MaxItemBytes int64 `yaml:"max_item_bytes"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MaxBytes, validation.Min(0)),
		validation.Field(&c.MaxItemBytes, validation.Min(0)),
	)
}

// ImportConfig holds the scheduler pool settings.
type ImportConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
	)
}

// ConvertConfig holds the default conversion parameters applied at
// import time. Fill is given as a string ("transparent" or "#rrggbb")
// and resolved during validation.
type ConvertConfig struct {
	Params convert.Params `yaml:",inline"`
	Fill   string         `yaml:"fill"`
}

// Validate resolves the fill spec and validates the parameters.
func (c *ConvertConfig) Validate() error {
	if c.Fill != "" {
		fill, err := convert.ParseFill(c.Fill)
		if err != nil {
			return err
		}
		c.Params.Fill = fill
	}
	return c.Params.Validate()
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
	// Normalise empty mode to "disabled" for backward compatibility.
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
		Library: LibraryConfig{
			Path:  "./library",
			Watch: true,
		},
		Cache: CacheConfig{
			Path:     "./raido-artifacts.db",
			MaxBytes: 256 << 20,
		},
		Import: ImportConfig{
			Workers:    4,
			QueueSize:  256,
			JobTimeout: 2 * time.Minute,
		},
		Convert: ConvertConfig{
			Params: convert.Params{
				ScaleFactor: 2,
				Format:      convert.FormatPNG,
				Quality:     90,
			},
			Fill: "#000000",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
