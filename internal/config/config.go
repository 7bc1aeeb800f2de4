// Package config assembles the service configuration. Sources are applied in
// increasing priority: built-in defaults, an optional JSON file, environment
// variables (a .env file is loaded first when present) and command line flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Application environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevelopmentJWTSecret signs tokens when no secret is configured. It is
// refused in production.
const DevelopmentJWTSecret = "development-only-secret-change-me-please"

// Config holds every setting of the service.
type Config struct {
	RunAddr  string `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	AppEnv   string `env:"APP_ENV" json:"app_env" validate:"oneof=development production"`
	LogLevel string `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`

	DatabaseURI         string        `env:"DATABASE" json:"database"`
	DatabaseName        string        `env:"DATABASE_NAME" json:"database_name" validate:"required"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"db_connection_timeout" validate:"gt=0"`

	JWTSecret          string        `env:"JWT_SECRET" json:"jwt_secret" validate:"required,min=32"`
	JWTExpiresIn       time.Duration `env:"JWT_EXPIRES_IN" json:"jwt_expires_in" validate:"gt=0"`
	JWTCookieExpiresIn time.Duration `env:"JWT_COOKIE_EXPIRES_IN" json:"jwt_cookie_expires_in" validate:"gt=0"`
	AuthCookieName     string        `env:"AUTH_COOKIE_NAME" json:"auth_cookie_name" validate:"required"`
	BcryptCost         int           `env:"BCRYPT_COST" json:"bcrypt_cost" validate:"min=4,max=31"`
	PasswordResetTTL   time.Duration `env:"PASSWORD_RESET_TTL" json:"password_reset_ttl" validate:"gt=0"`

	FrontendURL   string `env:"FRONTEND_URL" json:"frontend_url" validate:"omitempty,url"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url" validate:"omitempty,url"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY" json:"stripe_secret_key"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" json:"stripe_webhook_secret"`
	PaymentCurrency     string `env:"PAYMENT_CURRENCY" json:"payment_currency" validate:"len=3"`

	EmailHost     string `env:"EMAIL_HOST" json:"email_host"`
	EmailPort     int    `env:"EMAIL_PORT" json:"email_port" validate:"min=1,max=65535"`
	EmailUsername string `env:"EMAIL_USERNAME" json:"email_username"`
	EmailPassword string `env:"EMAIL_PASSWORD" json:"email_password"`
	EmailFrom     string `env:"EMAIL_FROM" json:"email_from" validate:"required"`

	ImageStorage        string `env:"IMAGE_STORAGE" json:"image_storage" validate:"oneof=local s3 cloudinary"`
	UploadDir           string `env:"UPLOAD_DIR" json:"upload_dir"`
	S3Bucket            string `env:"S3_BUCKET" json:"s3_bucket" validate:"required_if=ImageStorage s3"`
	S3Region            string `env:"S3_REGION" json:"s3_region"`
	S3Endpoint          string `env:"S3_ENDPOINT" json:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey         string `env:"S3_ACCESS_KEY" json:"s3_access_key"`
	S3SecretKey         string `env:"S3_SECRET_KEY" json:"s3_secret_key"`
	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME" json:"cloudinary_cloud_name" validate:"required_if=ImageStorage cloudinary"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY" json:"cloudinary_api_key"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET" json:"cloudinary_api_secret"`

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," json:"cors_allowed_origins"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" json:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" json:"rate_limit_window" validate:"gt=0"`
	BodyLimitBytes     int64         `env:"BODY_LIMIT_BYTES" json:"body_limit_bytes" validate:"min=1"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otel_exporter_otlp_endpoint"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" json:"otel_exporter_otlp_insecure"`

	RatingsQueueCapacity int           `env:"RATINGS_QUEUE_CAPACITY" json:"ratings_queue_capacity" validate:"min=1"`
	RatingsFlushInterval time.Duration `env:"RATINGS_FLUSH_INTERVAL" json:"ratings_flush_interval" validate:"gt=0"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout" validate:"gt=0"`

	ConfigFile string `env:"CONFIG" json:"-"`
}

var defaultConfig = Config{
	RunAddr:              ":8080",
	AppEnv:               EnvDevelopment,
	LogLevel:             "info",
	DatabaseName:         "toursapi",
	DBConnectionTimeout:  10 * time.Second,
	JWTSecret:            DevelopmentJWTSecret,
	JWTExpiresIn:         90 * 24 * time.Hour,
	JWTCookieExpiresIn:   90 * 24 * time.Hour,
	AuthCookieName:       "jwt",
	BcryptCost:           12,
	PasswordResetTTL:     10 * time.Minute,
	PaymentCurrency:      "usd",
	EmailPort:            25,
	EmailFrom:            "Tours API <noreply@toursapi.local>",
	ImageStorage:         "local",
	UploadDir:            "uploads",
	CORSAllowedOrigins:   []string{"*"},
	RateLimitRequests:    1000,
	RateLimitWindow:      time.Hour,
	BodyLimitBytes:       10 << 10,
	RatingsQueueCapacity: 1024,
	RatingsFlushInterval: time.Second,
	ShutdownTimeout:      10 * time.Second,
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func applyDefaults(values *Config, defaults Config) {
	*values = defaults
	values.CORSAllowedOrigins = append([]string(nil), defaults.CORSAllowedOrigins...)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug":  true,
		"info":   true,
		"warn":   true,
		"error":  true,
		"dpanic": true,
		"panic":  true,
		"fatal":  true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.IsProduction() && c.JWTSecret == DevelopmentJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}

	return nil
}

// InitOption tunes New.
type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
}

// WithDisableFlagsParsing skips the command line, as tests and tools embedding the config need.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs replaces os.Args[1:] as the parsed command line.
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

type flagValues struct {
	configFile   string
	runAddr      string
	logLevel     string
	databaseURI  string
	appEnv       string
	imageStorage string
	set          map[string]bool
}

func parseFlags(args []string) (*flagValues, error) {
	values := &flagValues{set: map[string]bool{}}

	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags.StringVar(&values.configFile, "c", "", "JSON configuration file")
	flags.StringVar(&values.runAddr, "a", defaultConfig.RunAddr, "address and port to run server")
	flags.StringVar(&values.logLevel, "l", defaultConfig.LogLevel, "logger level")
	flags.StringVar(&values.databaseURI, "d", "", "MongoDB connection string, the in-memory storage is used when empty")
	flags.StringVar(&values.appEnv, "e", defaultConfig.AppEnv, "application environment: development or production")
	flags.StringVar(&values.imageStorage, "i", defaultConfig.ImageStorage, "image storage: local, s3 or cloudinary")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	flags.Visit(func(f *flag.Flag) {
		values.set[f.Name] = true
	})

	return values, nil
}

func (f *flagValues) apply(values *Config) {
	if f.set["a"] {
		values.RunAddr = f.runAddr
	}
	if f.set["l"] {
		values.LogLevel = f.logLevel
	}
	if f.set["d"] {
		values.DatabaseURI = f.databaseURI
	}
	if f.set["e"] {
		values.AppEnv = f.appEnv
	}
	if f.set["i"] {
		values.ImageStorage = f.imageStorage
	}
}

func loadJSON(path string, values *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `os.ReadFile()` calling: %w", err)
	}

	if err := json.Unmarshal(raw, values); err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `json.Unmarshal()` calling: %w", err)
	}

	return nil
}

// New builds and validates the configuration.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                nil,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}
	if options.args == nil && len(os.Args) > 1 {
		options.args = os.Args[1:]
	}

	err := godotenv.Load()
	if err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	flags := &flagValues{set: map[string]bool{}}
	if !options.disableFlagsParsing {
		flags, err = parseFlags(options.args)
		if err != nil {
			return nil, err
		}
	}

	values := &Config{}
	applyDefaults(values, defaultConfig)

	configFile := flags.configFile
	if configFile == "" {
		configFile = os.Getenv("CONFIG")
	}
	if configFile != "" {
		if err := loadJSON(configFile, values); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(values); err != nil {
		return nil, err
	}

	flags.apply(values)

	values.LogLevel = strings.ToLower(values.LogLevel)
	values.ConfigFile = configFile

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}
