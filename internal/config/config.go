// Package config loads the service configuration from defaults, an optional
// JSON file, the environment (including .env) and command line flags, in
// increasing order of priority.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"dario.cat/mergo"
	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting of the service.
type Config struct {
	RunAddr             string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	ShortURLBase        string        `env:"BASE_URL" validate:"url"`
	LogLevel            string        `env:"LOG_LEVEL" validate:"loglevel"`
	DBFileName          string        `env:"FILE_STORAGE_PATH" validate:"filepath"`
	DatabaseDSN         string        `env:"DATABASE_DSN"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" validate:"gt=0"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR"`

	TokenSigningSecretKey string        `env:"TOKEN_SIGNING_SECRET_KEY" validate:"required,base64url"`
	TokenTTL              time.Duration `env:"TOKEN_TTL" validate:"gt=0"`

	ShortCodeLength   int `env:"SHORT_CODE_LENGTH" validate:"gte=4,lte=32"`
	ShortCodeAttempts int `env:"SHORT_CODE_ATTEMPTS" validate:"gte=1"`

	TrustedSubnet string `env:"TRUSTED_SUBNET" validate:"omitempty,cidr"`

	RedisAddr     string        `env:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" validate:"gte=0"`
	LinkCacheTTL  time.Duration `env:"LINK_CACHE_TTL" validate:"gt=0"`

	AMQPURL           string `env:"AMQP_URL" validate:"omitempty,url"`
	AccessEventsQueue string `env:"ACCESS_EVENTS_QUEUE"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," validate:"dive,required"`

	ConfigFile string `env:"CONFIG"`
}

// fileConfig is the JSON file layout. Durations are Go duration strings, e.g. "10s".
type fileConfig struct {
	RunAddr               string   `json:"server_address"`
	ShortURLBase          string   `json:"base_url"`
	LogLevel              string   `json:"log_level"`
	DBFileName            string   `json:"file_storage_path"`
	DatabaseDSN           string   `json:"database_dsn"`
	DBConnectionTimeout   string   `json:"db_connection_timeout"`
	MigrationsDir         string   `json:"migrations_dir"`
	TokenSigningSecretKey string   `json:"token_signing_secret_key"`
	TokenTTL              string   `json:"token_ttl"`
	ShortCodeLength       int      `json:"short_code_length"`
	ShortCodeAttempts     int      `json:"short_code_attempts"`
	TrustedSubnet         string   `json:"trusted_subnet"`
	RedisAddr             string   `json:"redis_addr"`
	RedisPassword         string   `json:"redis_password"`
	RedisDB               int      `json:"redis_db"`
	LinkCacheTTL          string   `json:"link_cache_ttl"`
	AMQPURL               string   `json:"amqp_url"`
	AccessEventsQueue     string   `json:"access_events_queue"`
	CORSAllowedOrigins    []string `json:"cors_allowed_origins"`
}

// DefaultTokenSigningSecretKey is a public development key. Deployments must
// set TOKEN_SIGNING_SECRET_KEY; see UsesDefaultSigningKey.
const DefaultTokenSigningSecretKey = "bWludXJsLWRldmVsb3BtZW50LXNpZ25pbmcta2V5LWNoYW5nZS1tZQ=="

var defaultConfig = Config{
	RunAddr:               ":8080",
	ShortURLBase:          "http://localhost:8080",
	LogLevel:              "info",
	DBConnectionTimeout:   10 * time.Second,
	MigrationsDir:         "cmd/shortener/migrations",
	TokenSigningSecretKey: DefaultTokenSigningSecretKey,
	TokenTTL:              10 * time.Hour,
	ShortCodeLength:       8,
	ShortCodeAttempts:     10,
	LinkCacheTTL:          time.Hour,
	AccessEventsQueue:     "link_access",
	CORSAllowedOrigins:    []string{"*"},
}

// InitOption configures New.
type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
}

// WithDisableFlagsParsing skips command line parsing.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs replaces os.Args[1:] as the source of flags.
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

// New builds the configuration.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                os.Args[1:],
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Unable to load .env file: %v", err)
	}

	var valuesFromFlags Config
	if !options.disableFlagsParsing {
		if err := parseFlags(&valuesFromFlags, options.args); err != nil {
			return nil, err
		}
	}

	var valuesFromEnv Config
	if err := env.Parse(&valuesFromEnv); err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}

	configFile := valuesFromFlags.ConfigFile
	if configFile == "" {
		configFile = valuesFromEnv.ConfigFile
	}

	values := Config{}
	applyDefaults(&values, defaultConfig)

	if configFile != "" {
		valuesFromFile, err := loadFile(configFile)
		if err != nil {
			return nil, err
		}
		if err := override(&values, valuesFromFile); err != nil {
			return nil, err
		}
	}

	if err := override(&values, valuesFromEnv); err != nil {
		return nil, err
	}

	if err := override(&values, valuesFromFlags); err != nil {
		return nil, err
	}

	values.ConfigFile = configFile

	if err := values.validate(); err != nil {
		return nil, err
	}

	return &values, nil
}

func parseFlags(values *Config, args []string) error {
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	flagSet.StringVar(&values.RunAddr, "a", "", "address and port to run server")
	flagSet.StringVar(&values.ShortURLBase, "b", "", "base address of the resulting shortened URL")
	flagSet.StringVar(&values.LogLevel, "l", "", "logger level")
	flagSet.StringVar(&values.DBFileName, "f", "", "JSON file name with database")
	flagSet.StringVar(&values.DatabaseDSN, "d", "", "A string with the database connection details")
	flagSet.StringVar(&values.TrustedSubnet, "t", "", "trusted subnet in CIDR notation for the internal endpoints")
	flagSet.StringVar(&values.ConfigFile, "c", "", "JSON configuration file")
	flagSet.StringVar(&values.ConfigFile, "config", "", "JSON configuration file")

	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("in internal/config/config.go/parseFlags(): error while `flagSet.Parse()` calling: %w", err)
	}

	return nil
}

func loadFile(fileName string) (Config, error) {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return Config{}, fmt.Errorf("in internal/config/config.go/loadFile(): error while `os.ReadFile()` calling: %w", err)
	}

	var file fileConfig
	if err := json.Unmarshal(raw, &file); err != nil {
		return Config{}, fmt.Errorf("in internal/config/config.go/loadFile(): error while `json.Unmarshal()` calling: %w", err)
	}

	values := Config{
		RunAddr:               file.RunAddr,
		ShortURLBase:          file.ShortURLBase,
		LogLevel:              file.LogLevel,
		DBFileName:            file.DBFileName,
		DatabaseDSN:           file.DatabaseDSN,
		MigrationsDir:         file.MigrationsDir,
		TokenSigningSecretKey: file.TokenSigningSecretKey,
		ShortCodeLength:       file.ShortCodeLength,
		ShortCodeAttempts:     file.ShortCodeAttempts,
		TrustedSubnet:         file.TrustedSubnet,
		RedisAddr:             file.RedisAddr,
		RedisPassword:         file.RedisPassword,
		RedisDB:               file.RedisDB,
		AMQPURL:               file.AMQPURL,
		AccessEventsQueue:     file.AccessEventsQueue,
		CORSAllowedOrigins:    file.CORSAllowedOrigins,
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{raw: file.DBConnectionTimeout, dst: &values.DBConnectionTimeout},
		{raw: file.TokenTTL, dst: &values.TokenTTL},
		{raw: file.LinkCacheTTL, dst: &values.LinkCacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("in internal/config/config.go/loadFile(): error while `time.ParseDuration()` calling: %w", err)
		}
		*d.dst = parsed
	}

	return values, nil
}

// UsesDefaultSigningKey reports whether tokens are signed with the public
// development key.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.TokenSigningSecretKey == DefaultTokenSigningSecretKey
}

// applyDefaults fills the zero fields of values from defaults.
func applyDefaults(values *Config, defaults Config) {
	_ = mergo.Merge(values, defaults)
}

// override copies the non-zero fields of src over dst.
func override(dst *Config, src Config) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("in internal/config/config.go/override(): error while `mergo.Merge()` calling: %w", err)
	}

	return nil
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	if path == "" {
		return true
	}

	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug":   true,
		"info":    true,
		"warning": true,
		"warn":    true,
		"error":   true,
		"fatal":   true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("in internal/config/config.go/validate(): error while `validate.Struct()` calling: %w", err)
	}

	return nil
}
