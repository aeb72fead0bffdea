package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gopkg.in/yaml.v3"
)

const defaultVAPIDSubject = "mailto:admin@apppush.local"

type Config struct {
	HTTPPort    string `yaml:"http_port"`
	HTTPSPort   string `yaml:"https_port"`
	Domain      string `yaml:"domain"`
	HTTPOnly    bool   `yaml:"http_only"`
	FrontendURI string `yaml:"frontend_uri"`
	DBPath      string `yaml:"db_path"`
	LogLevel    string `yaml:"log_level"`

	Dispatch DispatchConfig `yaml:"dispatch"`
	Redis    RedisConfig    `yaml:"redis"`

	// Secrets never come from config.yaml.
	JWTSecret string     `yaml:"-"`
	VAPIDKeys *VAPIDKeys `yaml:"-"`
}

type DispatchConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	PushTTL     time.Duration `yaml:"push_ttl"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Paths locates the files Load reads and writes. Empty fields default to
// config.yaml and keys/ next to the executable.
type Paths struct {
	ConfigFile string
	KeysDir    string
}

func (p Paths) withDefaults() Paths {
	if p.ConfigFile == "" {
		p.ConfigFile = filepath.Join(executableDir(), "config.yaml")
	}
	if p.KeysDir == "" {
		p.KeysDir = filepath.Join(executableDir(), "keys")
	}
	return p
}

func defaults() *Config {
	return &Config{
		HTTPPort:  "8080",
		HTTPSPort: "8443",
		Domain:    "localhost",
		DBPath:    filepath.Join(executableDir(), "apppush.db"),
		LogLevel:  "info",
		Dispatch: DispatchConfig{
			Concurrency: 32,
			Timeout:     10 * time.Second,
			PushTTL:     60 * time.Second,
		},
		Redis: RedisConfig{
			TTL: 5 * time.Minute,
		},
	}
}

// Load builds the configuration: defaults, then config.yaml if present,
// then environment variables, then the httpOnly flag. Secrets are loaded
// from the environment or the keys directory and generated when missing.
func Load(logger *slog.Logger, paths Paths, httpOnly *bool) (*Config, error) {
	paths = paths.withDefaults()
	cfg := defaults()

	data, err := os.ReadFile(paths.ConfigFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", paths.ConfigFile, err)
		}
		logger.Info("Configuration loaded", "path", paths.ConfigFile)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", paths.ConfigFile, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	cfg.JWTSecret, err = loadOrGenerateJWTSecret(logger, paths.KeysDir)
	if err != nil {
		return nil, err
	}
	cfg.VAPIDKeys, err = loadVAPIDKeys(logger, paths.KeysDir)
	if err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.HTTPOnly && c.FrontendURI == "" {
		return errors.New("FRONTEND_URI is required in http-only mode")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch concurrency must be positive, got %d", c.Dispatch.Concurrency)
	}
	if c.Dispatch.Timeout < 0 || c.Dispatch.PushTTL < 0 {
		return errors.New("dispatch timeouts must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis is enabled but no address is set")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog. Validate rejects unknown values.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.LogLevel))
	return level
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPPort, "HTTP_PORT")
	setString(&cfg.HTTPSPort, "HTTPS_PORT")
	setString(&cfg.Domain, "DOMAIN")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.FrontendURI, "FRONTEND_URI")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	for _, f := range []func() error{
		func() error { return setInt(&cfg.Dispatch.Concurrency, "DISPATCH_CONCURRENCY") },
		func() error { return setDuration(&cfg.Dispatch.Timeout, "DISPATCH_TIMEOUT") },
		func() error { return setDuration(&cfg.Dispatch.PushTTL, "PUSH_TTL") },
		func() error { return setInt(&cfg.Redis.DB, "REDIS_DB") },
		func() error { return setBool(&cfg.Redis.Enabled, "REDIS_ENABLED") },
		func() error { return setDuration(&cfg.Redis.TTL, "REDIS_TTL") },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func loadOrGenerateJWTSecret(logger *slog.Logger, keysDir string) (string, error) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret, nil
	}

	secretFile := filepath.Join(keysDir, "jwt-secret.key")
	if data, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	}

	secret, err := gonanoid.New(43)
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	if err := writeKeyFiles(keysDir, map[string]string{"jwt-secret.key": secret}); err != nil {
		logger.Warn("Failed to save JWT secret, it will change on restart unless JWT_SECRET is set", "error", err)
	} else {
		logger.Info("JWT secret generated", "path", secretFile)
	}
	return secret, nil
}

func loadVAPIDKeys(logger *slog.Logger, keysDir string) (*VAPIDKeys, error) {
	subject := os.Getenv("VAPID_SUBJECT")
	if subject == "" {
		subject = defaultVAPIDSubject
	}

	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")
	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}, nil
	}

	if keys, ok := readVAPIDKeys(logger, keysDir, subject); ok {
		return keys, nil
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}

	err = writeKeyFiles(keysDir, map[string]string{
		"vapid-public.key":  keys.PublicKey,
		"vapid-private.key": keys.PrivateKey,
		"vapid-subject.key": keys.Subject,
	})
	if err != nil {
		logger.Warn("Failed to save VAPID keys, devices will need to resubscribe after restart", "error", err)
	} else {
		logger.Info("VAPID keys generated", "dir", keysDir)
	}
	return keys, nil
}

// readVAPIDKeys loads a stored pair. The private key must be the raw 32-byte
// scalar webpush expects; anything else is discarded so a fresh pair is made.
func readVAPIDKeys(logger *slog.Logger, keysDir, subject string) (*VAPIDKeys, bool) {
	publicData, err := os.ReadFile(filepath.Join(keysDir, "vapid-public.key"))
	if err != nil {
		return nil, false
	}
	privateData, err := os.ReadFile(filepath.Join(keysDir, "vapid-private.key"))
	if err != nil {
		return nil, false
	}

	privateKey := strings.TrimSpace(string(privateData))
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(privateKey, "="))
	if err != nil || len(raw) != 32 {
		logger.Warn("Stored VAPID private key is not a raw P-256 key, regenerating", "bytes", len(raw))
		return nil, false
	}

	if data, err := os.ReadFile(filepath.Join(keysDir, "vapid-subject.key")); err == nil && os.Getenv("VAPID_SUBJECT") == "" {
		if s := strings.TrimSpace(string(data)); s != "" {
			subject = s
		}
	}

	return &VAPIDKeys{
		PublicKey:  strings.TrimSpace(string(publicData)),
		PrivateKey: privateKey,
		Subject:    subject,
	}, true
}

func writeKeyFiles(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func executableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

// CertsDir is where autocert caches certificates.
func CertsDir() string {
	return filepath.Join(executableDir(), "certs")
}
