// Package config resolves tool settings from defaults, an optional YAML
// file, a .env file and STIMKIT_* environment variables, in that order of
// increasing precedence. Command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stimkit/internal/blob"
)

// DefaultImagenetPath is the ImageNet training tree used when nothing else
// is configured.
const DefaultImagenetPath = "/imagenet/train/"

// Config is the resolved tool configuration.
type Config struct {
	Bank      BankConfig      `yaml:"bank"`
	Transform TransformConfig `yaml:"transform"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BankConfig locates the raw image bank.
type BankConfig struct {
	Driver    string `yaml:"driver"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// TransformConfig sizes the stimulus transform.
type TransformConfig struct {
	Resize int `yaml:"resize"`
	Crop   int `yaml:"crop"`
}

// LedgerConfig selects the experiment ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MetricsConfig controls the Prometheus textfile written after each command.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Bank:      BankConfig{Driver: string(blob.DriverFilesystem), Root: DefaultImagenetPath},
		Transform: TransformConfig{Resize: 256, Crop: 224},
		Ledger:    LedgerConfig{Driver: "none"},
	}
}

// Sources lists where settings come from. Zero values are skipped; Lookup
// defaults to os.LookupEnv.
type Sources struct {
	File   string
	Dotenv string
	Lookup func(string) (string, bool)
}

// Load resolves the configuration from src.
func Load(src Sources) (Config, error) {
	cfg := Default()
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse settings %s: %w", src.File, err)
		}
	}
	dotenv := map[string]string{}
	if src.Dotenv != "" {
		m, err := godotenv.Read(src.Dotenv)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", src.Dotenv, err)
		}
	}
	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	strs := map[string]*string{
		"STIMKIT_BANK_DRIVER":   &cfg.Bank.Driver,
		"STIMKIT_BANK_ROOT":     &cfg.Bank.Root,
		"STIMKIT_S3_BUCKET":     &cfg.Bank.Bucket,
		"STIMKIT_S3_PREFIX":     &cfg.Bank.Prefix,
		"STIMKIT_S3_REGION":     &cfg.Bank.Region,
		"STIMKIT_S3_ENDPOINT":   &cfg.Bank.Endpoint,
		"STIMKIT_LEDGER_DRIVER": &cfg.Ledger.Driver,
		"STIMKIT_LEDGER_DSN":    &cfg.Ledger.DSN,
		"STIMKIT_METRICS_FILE":  &cfg.Metrics.Textfile,
	}
	for key, dst := range strs {
		if v, ok := env(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	ints := map[string]*int{
		"STIMKIT_TRANSFORM_RESIZE": &cfg.Transform.Resize,
		"STIMKIT_TRANSFORM_CROP":   &cfg.Transform.Crop,
	}
	for key, dst := range ints {
		if v, ok := env(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v, ok := env("STIMKIT_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("STIMKIT_S3_PATH_STYLE: %w", err)
		}
		cfg.Bank.PathStyle = b
	}
	return nil
}

// Validate checks enumerations and sizes.
func (c Config) Validate() error {
	switch blob.Driver(c.Bank.Driver) {
	case blob.DriverFilesystem, blob.DriverS3:
	default:
		return fmt.Errorf("unknown bank driver %q", c.Bank.Driver)
	}
	if blob.Driver(c.Bank.Driver) == blob.DriverS3 && c.Bank.Bucket == "" {
		return fmt.Errorf("bank driver s3 requires a bucket")
	}
	if c.Transform.Resize <= 0 || c.Transform.Crop <= 0 {
		return fmt.Errorf("transform sizes must be positive (resize=%d crop=%d)", c.Transform.Resize, c.Transform.Crop)
	}
	switch c.Ledger.Driver {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}

// BankOptions converts the bank settings into blob.Open options.
func (c Config) BankOptions() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.Bank.Driver),
		Root:   c.Bank.Root,
		S3: blob.S3Config{
			Region:    c.Bank.Region,
			Bucket:    c.Bank.Bucket,
			Prefix:    c.Bank.Prefix,
			Endpoint:  c.Bank.Endpoint,
			PathStyle: c.Bank.PathStyle,
		},
	}
}
