// Package config provides application configuration management using koanf
package config

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `koanf:"server"`

	// Database configuration
	Database DatabaseConfig `koanf:"database"`

	// Retrieval cache configuration
	Cache CacheConfig `koanf:"cache"`

	// Assistant thresholds and limits
	Assistant AssistantConfig `koanf:"assistant"`

	// Permission matrix (intent -> roles)
	Permissions PermissionsConfig `koanf:"permissions"`

	// Security settings
	Security SecurityConfig `koanf:"security"`

	// Application settings
	App AppConfig `koanf:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string    `koanf:"host"`
	Port         int       `koanf:"port"`
	ReadTimeout  int       `koanf:"read_timeout"`  // seconds
	WriteTimeout int       `koanf:"write_timeout"` // seconds
	TLS          TLSConfig `koanf:"tls"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	MinTLS   string `koanf:"min_version"` // "1.2" or "1.3"
}

// DatabaseConfig holds SQLite paths for the knowledge base and audit log
type DatabaseConfig struct {
	KnowledgePath string `koanf:"knowledge_path"`
	AuditPath     string `koanf:"audit_path"`
}

// CacheConfig holds retrieval-cache settings. When Redis is disabled the
// in-process TTL cache is used instead.
type CacheConfig struct {
	RedisEnabled  bool   `koanf:"redis_enabled"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	TTLSeconds    int    `koanf:"ttl_seconds"`
}

// TTL returns the retrieval-cache time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AssistantConfig holds the tunable thresholds governing synthesis and
// fallback routing. Injected into the orchestrator at construction so tests
// can vary them freely.
type AssistantConfig struct {
	// Below MinConfidence a response carries a mandatory-review warning.
	MinConfidence float64 `koanf:"min_confidence"`
	// Below FallbackCutoff the response is discarded for a fallback.
	FallbackCutoff float64 `koanf:"fallback_cutoff"`
	// Minimum number of sources for a synthesized response.
	MinSources int `koanf:"min_sources"`
	// Relevance bar a lone source must clear on single-source intents.
	SingleSourceBar float64 `koanf:"single_source_bar"`
	// Maximum retrieval results per request.
	MaxResults int `koanf:"max_results"`
	// Per-step I/O deadlines, milliseconds.
	RetrievalTimeoutMs int `koanf:"retrieval_timeout_ms"`
	SafetyTimeoutMs    int `koanf:"safety_timeout_ms"`
	// Default page size for suggestion history.
	HistoryPageSize int `koanf:"history_page_size"`
}

// RetrievalTimeout returns the retrieval deadline as a duration.
func (a AssistantConfig) RetrievalTimeout() time.Duration {
	return time.Duration(a.RetrievalTimeoutMs) * time.Millisecond
}

// SafetyTimeout returns the safety-validation deadline as a duration.
func (a AssistantConfig) SafetyTimeout() time.Duration {
	return time.Duration(a.SafetyTimeoutMs) * time.Millisecond
}

// PermissionsConfig maps each intent to its authorized roles, plus the roles
// allowed to publish approved output. Read-only after Load.
type PermissionsConfig struct {
	Matrix       map[string][]string `koanf:"matrix"`
	PublishRoles []string            `koanf:"publish_roles"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	AuthMode  string `koanf:"auth_mode"`  // "mock" or "jwt"
	ErrorMode string `koanf:"error_mode"` // "detailed" or "secure"
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables (highest precedence)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Set defaults
	setDefaults(k)

	// Load from config files (optional)
	loadConfigFiles(k)

	// Load from environment variables (highest precedence)
	if err := k.Load(env.Provider(".", env.Opt{}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	// Unmarshal into config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration populated with defaults only, without
// touching files or the environment. Intended for tests.
func Default() *Config {
	k := koanf.New(".")
	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		// Server defaults
		"server.host":            "localhost",
		"server.port":            8080,
		"server.read_timeout":    30,
		"server.write_timeout":   30,
		"server.tls.enabled":     false,
		"server.tls.min_version": "1.3",

		// Database defaults
		"database.knowledge_path": "knowledge.db",
		"database.audit_path":     "audit.db",

		// Cache defaults
		"cache.redis_enabled": false,
		"cache.redis_addr":    "localhost:6379",
		"cache.redis_db":      0,
		"cache.ttl_seconds":   900,

		// Assistant defaults
		"assistant.min_confidence":       0.75,
		"assistant.fallback_cutoff":      0.5,
		"assistant.min_sources":          2,
		"assistant.single_source_bar":    0.9,
		"assistant.max_results":          10,
		"assistant.retrieval_timeout_ms": 2000,
		"assistant.safety_timeout_ms":    2000,
		"assistant.history_page_size":    50,

		// Permission matrix defaults
		"permissions.matrix": map[string][]string{
			"suggest_clause":      {"manager", "compliance_officer", "policy_author"},
			"map_policy":          {"manager", "compliance_officer", "policy_author"},
			"review_policy":       {"manager", "compliance_officer", "policy_author", "quality_lead"},
			"suggest_improvement": {"manager", "compliance_officer", "policy_author", "quality_lead"},
			"validate_compliance": {"manager", "compliance_officer"},
		},
		"permissions.publish_roles": []string{"manager", "compliance_officer"},

		// Security defaults
		"security.auth_mode":  "mock",
		"security.error_mode": "detailed",

		// App defaults
		"app.environment": "development",
		"app.log_level":   "info",
		"app.log_format":  "text",
	}

	for key, value := range defaults {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf) {
	// Try to load YAML config
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Printf("Warning: failed to load config.yaml: %v", err)
		}
	}

	// Try to load JSON config
	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Printf("Warning: failed to load config.json: %v", err)
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate TLS configuration
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}

		if _, err := os.Stat(cfg.Server.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", cfg.Server.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.Server.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.Server.TLS.KeyFile)
		}
	}

	// Validate assistant thresholds
	a := cfg.Assistant
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("assistant.min_confidence must be in [0,1], got %v", a.MinConfidence)
	}
	if a.FallbackCutoff < 0 || a.FallbackCutoff > a.MinConfidence {
		return fmt.Errorf("assistant.fallback_cutoff must be in [0, min_confidence], got %v", a.FallbackCutoff)
	}
	if a.SingleSourceBar < 0 || a.SingleSourceBar > 1 {
		return fmt.Errorf("assistant.single_source_bar must be in [0,1], got %v", a.SingleSourceBar)
	}
	if a.MinSources < 1 {
		return fmt.Errorf("assistant.min_sources must be at least 1, got %d", a.MinSources)
	}
	if a.MaxResults < 1 {
		return fmt.Errorf("assistant.max_results must be at least 1, got %d", a.MaxResults)
	}

	// Cache TTL is bounded: stale retrieval results must age out within an hour.
	if cfg.Cache.TTLSeconds < 0 || cfg.Cache.TTLSeconds > 3600 {
		return fmt.Errorf("cache.ttl_seconds must be in [0, 3600], got %d", cfg.Cache.TTLSeconds)
	}

	if len(cfg.Permissions.Matrix) == 0 {
		return fmt.Errorf("permissions.matrix must not be empty")
	}

	return nil
}

// GetTLSConfig returns a TLS configuration based on the config
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.Server.TLS.Enabled {
		return nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12, // Set default minimum version
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}

	switch c.Server.TLS.MinTLS {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
