package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Auth flows supported for obtaining a CRM bearer token
const (
	AuthFlowPassword = "password"
	AuthFlowJWT      = "jwt"
)

// Cycle lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds all agent configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	ERP       ERPConfig
	CRM       CRMConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Version string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `validate:"oneof=debug info warn warning error fatal"`
	Format      string `validate:"oneof=json console"`
	Output      string // stdout, stderr, or file path
	ErrorOutput string // stderr, stdout, file path, or none
	TimeFormat  string
}

// ERPConfig holds the ERP database connection and order query
type ERPConfig struct {
	DSN             string // overrides the discrete connection fields when set
	Host            string
	Port            int `validate:"gte=1,lte=65535"`
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Query           string `validate:"required"`
	QueryTimeout    time.Duration `validate:"gte=0"`
	MaxOpenConns    int           `validate:"gte=1"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
	LogLevel        string        // silent, error, warn, info
}

// CRMConfig holds the Salesforce REST endpoint settings
type CRMConfig struct {
	InstanceURL     string
	APIVersion      string        `validate:"required"`
	SObject         string        `validate:"required"`
	ExternalIDField string        `validate:"required"`
	Timeout         time.Duration `validate:"gte=0"` // 0 means no client timeout
	Lookups         LookupsConfig
}

// LookupsConfig enables the optional lookups
type LookupsConfig struct {
	Warehouse         bool
	PaymentMethod     bool
	Route             bool
	TriangularPartner bool
}

// AuthConfig holds the OAuth2 token settings
type AuthConfig struct {
	Flow           string `validate:"oneof=password jwt"`
	LoginURL       string `validate:"required,url"`
	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	SecurityToken  string
	PrivateKeyPath string        // PEM encoded RSA key for the jwt flow
	TokenTTL       time.Duration `validate:"gt=0"`
	Timeout        time.Duration `validate:"gte=0"`
}

// SchedulerConfig holds the sync cycle schedule
type SchedulerConfig struct {
	Interval              time.Duration `validate:"gt=0"`
	RunOnStart            bool
	MaxHistory            int           `validate:"gte=0"`
	FailureAlertThreshold int           `validate:"gte=0"` // consecutive FAILED runs before a warning; 0 disables
	LockBackend           string        `validate:"oneof=memory redis"`
	LockKey               string        `validate:"required"`
	LockTTL               time.Duration `validate:"gt=0"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	MetricsEnabled    bool    // Whether to export metrics
	LogsEnabled       bool    // Whether to bridge logs to OTEL
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 `validate:"gte=0,lte=1"`
	ServiceName       string
	Insecure          bool
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// Option customizes Load
type Option func(*loadOptions)

type loadOptions struct {
	configFile string
	envFiles   []string
}

// WithConfigFile reads the given file instead of searching for config.toml
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

// WithEnvFiles loads the given dotenv files instead of ./.env
func WithEnvFiles(paths ...string) Option {
	return func(o *loadOptions) {
		o.envFiles = paths
	}
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SFAGENT_ prefix (e.g., SFAGENT_AUTH_PASSWORD)
// 2. Variables from .env (never overriding the real environment)
// 3. config.toml
// 4. Built-in defaults
func Load(opts ...Option) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if err := loadEnvFiles(options.envFiles); err != nil {
		return nil, err
	}

	v := viper.New()

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sfagent")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || options.configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SFAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.failure_alert_threshold", 3)

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Version: v.GetString("app.version"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Format:      v.GetString("log.format"),
			Output:      v.GetString("log.output"),
			ErrorOutput: v.GetString("log.error_output"),
			TimeFormat:  v.GetString("log.time_format"),
		},
		ERP: ERPConfig{
			DSN:             v.GetString("erp.dsn"),
			Host:            v.GetString("erp.host"),
			Port:            v.GetInt("erp.port"),
			User:            v.GetString("erp.user"),
			Password:        v.GetString("erp.password"),
			DBName:          v.GetString("erp.dbname"),
			SSLMode:         v.GetString("erp.sslmode"),
			Query:           v.GetString("erp.query"),
			QueryTimeout:    v.GetDuration("erp.query_timeout"),
			MaxOpenConns:    v.GetInt("erp.max_open_conns"),
			MaxIdleConns:    v.GetInt("erp.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("erp.conn_max_lifetime"),
			LogLevel:        v.GetString("erp.log_level"),
		},
		CRM: CRMConfig{
			InstanceURL:     v.GetString("crm.instance_url"),
			APIVersion:      v.GetString("crm.api_version"),
			SObject:         v.GetString("crm.sobject"),
			ExternalIDField: v.GetString("crm.external_id_field"),
			Timeout:         v.GetDuration("crm.timeout"),
			Lookups: LookupsConfig{
				Warehouse:         v.GetBool("crm.lookups.warehouse"),
				PaymentMethod:     v.GetBool("crm.lookups.payment_method"),
				Route:             v.GetBool("crm.lookups.route"),
				TriangularPartner: v.GetBool("crm.lookups.triangular_partner"),
			},
		},
		Auth: AuthConfig{
			Flow:           v.GetString("auth.flow"),
			LoginURL:       v.GetString("auth.login_url"),
			ClientID:       v.GetString("auth.client_id"),
			ClientSecret:   v.GetString("auth.client_secret"),
			Username:       v.GetString("auth.username"),
			Password:       v.GetString("auth.password"),
			SecurityToken:  v.GetString("auth.security_token"),
			PrivateKeyPath: v.GetString("auth.private_key_path"),
			TokenTTL:       v.GetDuration("auth.token_ttl"),
			Timeout:        v.GetDuration("auth.timeout"),
		},
		Scheduler: SchedulerConfig{
			Interval:              v.GetDuration("scheduler.interval"),
			RunOnStart:            v.GetBool("scheduler.run_on_start"),
			MaxHistory:            v.GetInt("scheduler.max_history"),
			FailureAlertThreshold: v.GetInt("scheduler.failure_alert_threshold"),
			LockBackend:           v.GetString("scheduler.lock_backend"),
			LockKey:               v.GetString("scheduler.lock_key"),
			LockTTL:               v.GetDuration("scheduler.lock_ttl"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFiles loads dotenv files; a missing default .env is not an error
func loadEnvFiles(paths []string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("error loading env file: %w", err)
	}
	return nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sfagent"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.ErrorOutput == "" {
		cfg.Log.ErrorOutput = "stderr"
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = "2006-01-02T15:04:05.000Z07:00"
	}
	if cfg.ERP.Host == "" {
		cfg.ERP.Host = "localhost"
	}
	if cfg.ERP.Port == 0 {
		cfg.ERP.Port = 5432
	}
	if cfg.ERP.User == "" {
		cfg.ERP.User = "postgres"
	}
	if cfg.ERP.DBName == "" {
		cfg.ERP.DBName = "erp"
	}
	if cfg.ERP.SSLMode == "" {
		cfg.ERP.SSLMode = "disable"
	}
	if cfg.ERP.Query == "" {
		cfg.ERP.Query = "CALL SP_PEDIDOS_SF()"
	}
	if cfg.ERP.MaxOpenConns == 0 {
		cfg.ERP.MaxOpenConns = 2
	}
	if cfg.ERP.MaxIdleConns == 0 {
		cfg.ERP.MaxIdleConns = 1
	}
	if cfg.ERP.ConnMaxLifetime == 0 {
		cfg.ERP.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ERP.LogLevel == "" {
		cfg.ERP.LogLevel = "warn"
	}
	if cfg.CRM.APIVersion == "" {
		cfg.CRM.APIVersion = "v60.0"
	}
	if cfg.CRM.SObject == "" {
		cfg.CRM.SObject = "Order"
	}
	if cfg.CRM.ExternalIDField == "" {
		cfg.CRM.ExternalIDField = "CA_NPedidoSAP__c"
	}
	if cfg.Auth.Flow == "" {
		cfg.Auth.Flow = AuthFlowPassword
	}
	if cfg.Auth.LoginURL == "" {
		cfg.Auth.LoginURL = "https://login.salesforce.com"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = 30 * time.Second
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 5 * time.Minute
	}
	if cfg.Scheduler.MaxHistory == 0 {
		cfg.Scheduler.MaxHistory = 100
	}
	if cfg.Scheduler.LockBackend == "" {
		cfg.Scheduler.LockBackend = LockBackendMemory
	}
	if cfg.Scheduler.LockKey == "" {
		cfg.Scheduler.LockKey = "sfagent:order-sync:lock"
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 30 * time.Minute
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 5 * time.Second
	}
	// Note: DBLogFullSQL defaults to false so ERP row values never land in traces
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.ERP.MaxIdleConns > c.ERP.MaxOpenConns {
		return fmt.Errorf("erp.max_idle_conns (%d) cannot exceed erp.max_open_conns (%d)",
			c.ERP.MaxIdleConns, c.ERP.MaxOpenConns)
	}

	if c.Scheduler.FailureAlertThreshold > c.Scheduler.MaxHistory {
		return fmt.Errorf("scheduler.failure_alert_threshold (%d) cannot exceed scheduler.max_history (%d)",
			c.Scheduler.FailureAlertThreshold, c.Scheduler.MaxHistory)
	}

	if c.Scheduler.LockBackend == LockBackendRedis && c.Scheduler.LockTTL < c.Scheduler.Interval {
		return fmt.Errorf("scheduler.lock_ttl (%s) must be at least scheduler.interval (%s)",
			c.Scheduler.LockTTL, c.Scheduler.Interval)
	}

	if c.App.Env == "production" && c.Telemetry.DBLogFullSQL {
		return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent ERP data exposure in traces")
	}

	return nil
}

// ValidateForRun checks the settings that are only needed to actually run a sync:
// the CRM endpoint and the credentials of the configured auth flow.
func (c *Config) ValidateForRun() error {
	if c.CRM.InstanceURL == "" {
		return fmt.Errorf("crm.instance_url is required")
	}
	if u, err := url.Parse(c.CRM.InstanceURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crm.instance_url must be an absolute URL, got %q", c.CRM.InstanceURL)
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required")
	}
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}

	switch c.Auth.Flow {
	case AuthFlowPassword:
		if c.Auth.Password == "" {
			return fmt.Errorf("auth.password is required for the password flow")
		}
	case AuthFlowJWT:
		if c.Auth.PrivateKeyPath == "" {
			return fmt.Errorf("auth.private_key_path is required for the jwt flow")
		}
	}

	if c.ERP.DSN == "" && c.ERP.Password == "" && c.App.Env == "production" {
		return fmt.Errorf("erp.password is required in production")
	}

	return nil
}

// ConnectionString returns the ERP database connection string with properly escaped values
func (e *ERPConfig) ConnectionString() string {
	if e.DSN != "" {
		return e.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.User, e.Password),
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
		Path:   e.DBName,
	}
	q := u.Query()
	q.Set("sslmode", e.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
