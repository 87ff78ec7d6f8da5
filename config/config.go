// Package config provides configuration for the bough CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds CLI configuration.
type Config struct {
	// DB is the SQLite database file.
	DB string `yaml:"db" validate:"required"`
	// Policy is an optional YAML rules file for the site policy.
	Policy string `yaml:"policy"`
	// Author is recorded on commits when none is given.
	Author string `yaml:"author" validate:"max=200"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"min=0,max=10m"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		DB:          getEnv("BOUGH_DB", "./bough.db"),
		Policy:      getEnv("BOUGH_POLICY", ""),
		Author:      getEnv("BOUGH_AUTHOR", os.Getenv("USER")),
		Debug:       getEnvBool("BOUGH_DEBUG", false),
		BusyTimeout: getEnvDuration("BOUGH_BUSY_TIMEOUT", 5*time.Second),
	}
}

// Load overlays the YAML file at path onto the environment configuration.
// Keys missing from the file keep their environment values.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
