package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. JOY_AUTH_URL
const EnvPrefix = "JOY"

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Auth     AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	Local    LocalConfig    `yaml:"local" envconfig:"LOCAL"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// ServerConfig holds the local view transport configuration
type ServerConfig struct {
	Port int    `yaml:"port" envconfig:"PORT"`
	Host string `yaml:"host" envconfig:"HOST"`

	// AllowedOrigins lists the browser origins that may call the API
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// DatabaseConfig holds the remote record store configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	User     string `yaml:"user" envconfig:"USER"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DBName   string `yaml:"dbname" envconfig:"DBNAME"`
	SSLMode  string `yaml:"sslmode" envconfig:"SSLMODE"`
}

// StorageConfig holds the remote object store configuration
type StorageConfig struct {
	Region        string `yaml:"region" envconfig:"REGION"`
	Endpoint      string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey     string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	ImageBucket   string `yaml:"image_bucket" envconfig:"IMAGE_BUCKET"`
	AvatarBucket  string `yaml:"avatar_bucket" envconfig:"AVATAR_BUCKET"`
	PublicBaseURL string `yaml:"public_base_url" envconfig:"PUBLIC_BASE_URL"`
}

// AuthConfig holds the identity provider configuration
type AuthConfig struct {
	URL         string `yaml:"url" envconfig:"URL"`
	AnonKey     string `yaml:"anon_key" envconfig:"ANON_KEY"`
	JWTSecret   string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	RedirectURL string `yaml:"redirect_url" envconfig:"REDIRECT_URL"`
}

// LocalConfig holds the local record store configuration
type LocalConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the configuration used when neither file nor environment say otherwise
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8787,

			AllowedOrigins: []string{
				"http://127.0.0.1:8787",
				"http://localhost:8787",
			},
		},
		Database: DatabaseConfig{
			Port:    5432,
			DBName:  "postgres",
			SSLMode: "require",
		},
		Storage: StorageConfig{
			Region:       "us-east-1",
			ImageBucket:  "joy-images",
			AvatarBucket: "avatars",
		},
		Local: LocalConfig{
			Path: "joy-journal.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file and applies JOY_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Configured reports whether a record store host and user are set
func (c *DatabaseConfig) Configured() bool {
	return c.Host != "" && c.User != ""
}

// Configured reports whether an object store bucket and public URL base are set
func (c *StorageConfig) Configured() bool {
	return c.ImageBucket != "" && c.PublicBaseURL != ""
}

// Configured reports whether real identity provider credentials are present.
// Placeholder values from sample configs count as unconfigured.
func (c *AuthConfig) Configured() bool {
	if c.URL == "" || c.AnonKey == "" {
		return false
	}
	if strings.Contains(c.URL, "your_") || strings.Contains(c.AnonKey, "your_") {
		return false
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
