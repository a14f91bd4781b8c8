package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rpattn/fleetquery/internal/db"
	"github.com/rpattn/fleetquery/internal/documentstore"
	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/shard"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig
	SQL           SQLConfig
	Logs          LogsConfig
	DocumentStore documentstore.Config
	History       HistoryConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// SQLConfig holds fleet and execution settings.
type SQLConfig struct {
	DefaultTimeout         time.Duration
	ConnectionTimeout      time.Duration
	MaxConcurrentQueries   int
	DefaultDatabase        string
	SecondaryMarker        string
	Encrypt                bool
	TrustServerCertificate bool
	Servers                []domain.ServerDescriptor
}

// LogsConfig controls retention of per-request progress logs.
type LogsConfig struct {
	Retention       time.Duration
	CleanupSchedule string
}

// HistoryConfig controls the optional execution history store.
type HistoryConfig struct {
	Enabled  bool
	Database db.Config
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	servers := make([]domain.ServerDescriptor, 0, len(shard.DefaultEntries()))
	for _, entry := range shard.DefaultEntries() {
		servers = append(servers, domain.ServerDescriptor{
			Name:            entry.Server,
			Host:            entry.Host,
			Port:            1433,
			Driver:          "sqlserver",
			DefaultDatabase: "AASI",
		})
	}

	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   5 * time.Minute,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		SQL: SQLConfig{
			DefaultTimeout:         180 * time.Second,
			ConnectionTimeout:      60 * time.Second,
			MaxConcurrentQueries:   16,
			DefaultDatabase:        "AASI",
			SecondaryMarker:        "aps",
			TrustServerCertificate: true,
			Servers:                servers,
		},
		Logs: LogsConfig{
			Retention:       10 * time.Minute,
			CleanupSchedule: "@every 10m",
		},
		DocumentStore: documentstore.DefaultConfig(),
		History: HistoryConfig{
			Enabled:  false,
			Database: db.DefaultConfig(),
		},
	}
}

// LoadConfig reads config.yaml from configPath when present and applies
// FLEETQUERY_ prefixed environment overrides on top of the defaults.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("FLEETQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		log.Println("[config] no config.yaml found, using defaults and env vars")
	} else {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.rate_limit_rps") {
		cfg.Server.RateLimitRPS = v.GetFloat64("server.rate_limit_rps")
	}
	if v.IsSet("server.rate_limit_burst") {
		cfg.Server.RateLimitBurst = v.GetInt("server.rate_limit_burst")
	}

	if v.IsSet("sql.default_timeout") {
		cfg.SQL.DefaultTimeout = v.GetDuration("sql.default_timeout")
	}
	if v.IsSet("sql.connection_timeout") {
		cfg.SQL.ConnectionTimeout = v.GetDuration("sql.connection_timeout")
	}
	if v.IsSet("sql.max_concurrent_queries") {
		cfg.SQL.MaxConcurrentQueries = v.GetInt("sql.max_concurrent_queries")
	}
	if v.IsSet("sql.default_database") {
		cfg.SQL.DefaultDatabase = v.GetString("sql.default_database")
	}
	if v.IsSet("sql.secondary_marker") {
		cfg.SQL.SecondaryMarker = v.GetString("sql.secondary_marker")
	}
	if v.IsSet("sql.encrypt") {
		cfg.SQL.Encrypt = v.GetBool("sql.encrypt")
	}
	if v.IsSet("sql.trust_server_certificate") {
		cfg.SQL.TrustServerCertificate = v.GetBool("sql.trust_server_certificate")
	}
	if v.IsSet("sql.servers") {
		var servers []domain.ServerDescriptor
		if err := v.UnmarshalKey("sql.servers", &servers); err != nil {
			return cfg, fmt.Errorf("decode sql.servers: %w", err)
		}
		for idx := range servers {
			if servers[idx].Port == 0 {
				servers[idx].Port = 1433
			}
			if servers[idx].Driver == "" {
				servers[idx].Driver = "sqlserver"
			}
			if servers[idx].DefaultDatabase == "" {
				servers[idx].DefaultDatabase = cfg.SQL.DefaultDatabase
			}
		}
		cfg.SQL.Servers = servers
	}

	if v.IsSet("logs.retention") {
		cfg.Logs.Retention = v.GetDuration("logs.retention")
	}
	if v.IsSet("logs.cleanup_schedule") {
		cfg.Logs.CleanupSchedule = v.GetString("logs.cleanup_schedule")
	}

	if v.IsSet("documentstore.backend") {
		cfg.DocumentStore.Backend = v.GetString("documentstore.backend")
	}
	if v.IsSet("documentstore.folder") {
		cfg.DocumentStore.Folder = v.GetString("documentstore.folder")
	}
	if v.IsSet("documentstore.local_root") {
		cfg.DocumentStore.LocalRoot = v.GetString("documentstore.local_root")
	}
	if v.IsSet("documentstore.base_url") {
		cfg.DocumentStore.BaseURL = v.GetString("documentstore.base_url")
	}
	if v.IsSet("documentstore.container") {
		cfg.DocumentStore.Container = v.GetString("documentstore.container")
	}
	if v.IsSet("documentstore.azure_connection_string") {
		cfg.DocumentStore.AzureConnectionString = v.GetString("documentstore.azure_connection_string")
	}
	if v.IsSet("documentstore.s3_region") {
		cfg.DocumentStore.S3Region = v.GetString("documentstore.s3_region")
	}
	if v.IsSet("documentstore.s3_endpoint") {
		cfg.DocumentStore.S3Endpoint = v.GetString("documentstore.s3_endpoint")
	}
	if v.IsSet("documentstore.s3_access_key") {
		cfg.DocumentStore.S3AccessKey = v.GetString("documentstore.s3_access_key")
	}
	if v.IsSet("documentstore.s3_secret_key") {
		cfg.DocumentStore.S3SecretKey = v.GetString("documentstore.s3_secret_key")
	}
	if v.IsSet("documentstore.gcs_credentials_file") {
		cfg.DocumentStore.GCSCredentialsFile = v.GetString("documentstore.gcs_credentials_file")
	}

	if v.IsSet("history.enabled") {
		cfg.History.Enabled = v.GetBool("history.enabled")
	}
	if v.IsSet("history.host") {
		cfg.History.Database.Host = v.GetString("history.host")
	}
	if v.IsSet("history.port") {
		cfg.History.Database.Port = v.GetInt("history.port")
	}
	if v.IsSet("history.user") {
		cfg.History.Database.User = v.GetString("history.user")
	}
	if v.IsSet("history.password") {
		cfg.History.Database.Password = v.GetString("history.password")
	}
	if v.IsSet("history.dbname") {
		cfg.History.Database.DBName = v.GetString("history.dbname")
	}
	if v.IsSet("history.sslmode") {
		cfg.History.Database.SSLMode = v.GetString("history.sslmode")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if len(c.SQL.Servers) == 0 {
		return fmt.Errorf("sql.servers: at least one server is required")
	}
	seen := make(map[string]struct{}, len(c.SQL.Servers))
	for _, server := range c.SQL.Servers {
		if server.Name == "" || server.Host == "" {
			return fmt.Errorf("sql.servers: name and host are required")
		}
		key := strings.ToLower(server.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sql.servers: duplicate server %q", server.Name)
		}
		seen[key] = struct{}{}
	}
	if c.SQL.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("sql.max_concurrent_queries must be positive")
	}
	if c.SQL.DefaultTimeout <= 0 {
		return fmt.Errorf("sql.default_timeout must be positive")
	}
	return nil
}

var envKeys = []string{
	"server.addr",
	"server.allowed_origins",
	"server.rate_limit_rps",
	"server.rate_limit_burst",
	"sql.default_timeout",
	"sql.connection_timeout",
	"sql.max_concurrent_queries",
	"sql.default_database",
	"sql.secondary_marker",
	"sql.encrypt",
	"sql.trust_server_certificate",
	"logs.retention",
	"logs.cleanup_schedule",
	"documentstore.backend",
	"documentstore.folder",
	"documentstore.local_root",
	"documentstore.base_url",
	"documentstore.container",
	"documentstore.azure_connection_string",
	"documentstore.s3_region",
	"documentstore.s3_endpoint",
	"documentstore.s3_access_key",
	"documentstore.s3_secret_key",
	"documentstore.gcs_credentials_file",
	"history.enabled",
	"history.host",
	"history.port",
	"history.user",
	"history.password",
	"history.dbname",
	"history.sslmode",
}
