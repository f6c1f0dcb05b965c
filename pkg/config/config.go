// Package config provides configuration loading, validation, and secret resolution for guidekit.
// It handles JSON and YAML config files, environment variable substitution, and env overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"guidekit/pkg/logx"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Auth modes.
const (
	AuthModeJWT      = "jwt"
	AuthModeDisabled = "disabled"
)

// Default models.
const (
	DefaultChatModel       = "gpt-4o-mini"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultEmbeddingDims   = 1536
	DefaultOllamaHost      = "http://localhost:11434"
	DefaultOllamaEmbedding = "nomic-embed-text"
)

// Secret names resolved through GetSecret.
const (
	SecretOpenAIKey    = "OPENAI_API_KEY"
	SecretAnthropicKey = "ANTHROPIC_API_KEY"
	SecretGoogleKey    = "GOOGLE_GENAI_API_KEY"
	SecretJWTSecret    = "SUPABASE_JWT_SECRET"
	SecretDatabaseURL  = "DATABASE_URL"
)

// EnvPrefix prefixes every environment override, e.g. GUIDEKIT_SERVER_PORT.
const EnvPrefix = "GUIDEKIT_"

// ConfigDir holds project-local state such as the encrypted secrets file.
const ConfigDir = ".guidekit"

// DefaultConfigFiles are searched in order when no path is given.
//
//nolint:gochecknoglobals // Read-only search list
var DefaultConfigFiles = []string{"guidekit.yaml", "guidekit.yml", "guidekit.json"}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                string   `json:"host" yaml:"host"`
	Port                int      `json:"port" yaml:"port"`
	ReadTimeoutSeconds  int      `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	CORSOrigins         []string `json:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver       string `json:"driver" yaml:"driver"`
	URL          string `json:"url" yaml:"url"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

// LLMConfig configures the chat completion provider and its middleware.
type LLMConfig struct {
	Provider          string  `json:"provider" yaml:"provider"`
	Model             string  `json:"model" yaml:"model"`
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	TokensPerMinute   int     `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxConcurrent     int     `json:"max_concurrent" yaml:"max_concurrent"`
	RetryAttempts     int     `json:"retry_attempts" yaml:"retry_attempts"`
	RequestTimeoutSec int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
}

// IngestConfig configures the documentation pipeline.
type IngestConfig struct {
	Workers         int    `json:"workers" yaml:"workers"`
	QueueSize       int    `json:"queue_size" yaml:"queue_size"`
	StepAttempts    int    `json:"step_attempts" yaml:"step_attempts"`
	ChunkTokens     int    `json:"chunk_tokens" yaml:"chunk_tokens"`
	ChunkOverlap    int    `json:"chunk_overlap" yaml:"chunk_overlap"`
	MaxPageBytes    int    `json:"max_page_bytes" yaml:"max_page_bytes"`
	SourceMaxTokens int    `json:"source_max_tokens" yaml:"source_max_tokens"`
	BrowserFallback bool   `json:"browser_fallback" yaml:"browser_fallback"`
	UserAgent       string `json:"user_agent" yaml:"user_agent"`
	FetchTimeoutSec int    `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
}

// RAGConfig configures retrieval for guide chat.
type RAGConfig struct {
	TopK          int     `json:"top_k" yaml:"top_k"`
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`
	HistoryTurns  int     `json:"history_turns" yaml:"history_turns"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	Mode     string `json:"mode" yaml:"mode"`
	Issuer   string `json:"issuer" yaml:"issuer"`
	Audience string `json:"audience" yaml:"audience"`
}

// MetricsConfig configures the Prometheus endpoint and usage queries.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Path          string `json:"path" yaml:"path"`
	PrometheusURL string `json:"prometheus_url" yaml:"prometheus_url"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	RAG       RAGConfig       `json:"rag" yaml:"rag"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

//nolint:gochecknoglobals // Package logger
var logger = logx.NewLogger("config")

// LoadDotEnv loads .env from the working directory if present.
func LoadDotEnv() {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	}
}

// Load reads configuration from path, or from the first default file found when path is empty.
// With no file at all the defaults are used. Env overrides and validation always apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		for _, candidate := range DefaultConfigFiles {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
		logger.Info("Loaded configuration from %s", path)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns a validated config containing only defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace environment variable placeholders.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(dataStr), cfg); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal([]byte(dataStr), cfg); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

// applyEnvOverridesRecursive maps GUIDEKIT_<SECTION>_<FIELD> onto nested struct fields by json tag.
func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		jsonTag := t.Field(i).Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(strings.TrimSpace(envValue)); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(strings.TrimSpace(envValue), 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(strings.TrimSpace(envValue)); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			values := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					values = append(values, p)
				}
			}
			field.Set(reflect.ValueOf(values))
		}
	}
}

// applyDefaults sets default values for missing configuration.
//
//nolint:cyclop // Flat list of defaults
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 300 // streamed chat responses
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultChatModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.TokensPerMinute == 0 {
		cfg.LLM.TokensPerMinute = 200000
	}
	if cfg.LLM.MaxConcurrent == 0 {
		cfg.LLM.MaxConcurrent = 8
	}
	if cfg.LLM.RetryAttempts == 0 {
		cfg.LLM.RetryAttempts = 3
	}
	if cfg.LLM.RequestTimeoutSec == 0 {
		cfg.LLM.RequestTimeoutSec = 120
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		if cfg.Embedding.Provider == ProviderOllama {
			cfg.Embedding.Model = DefaultOllamaEmbedding
		} else {
			cfg.Embedding.Model = DefaultEmbeddingModel
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultEmbeddingDims
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 100
	}
	if cfg.Ingest.StepAttempts == 0 {
		cfg.Ingest.StepAttempts = 3
	}
	if cfg.Ingest.ChunkTokens == 0 {
		cfg.Ingest.ChunkTokens = 500
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.MaxPageBytes == 0 {
		cfg.Ingest.MaxPageBytes = 2 << 20 // 2MB
	}
	if cfg.Ingest.SourceMaxTokens == 0 {
		cfg.Ingest.SourceMaxTokens = 12000
	}
	if cfg.Ingest.UserAgent == "" {
		cfg.Ingest.UserAgent = "Mozilla/5.0 (compatible; guidekit/1.0)"
	}
	if cfg.Ingest.FetchTimeoutSec == 0 {
		cfg.Ingest.FetchTimeoutSec = 60
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MinSimilarity == 0 {
		cfg.RAG.MinSimilarity = 0.2
	}
	if cfg.RAG.HistoryTurns == 0 {
		cfg.RAG.HistoryTurns = 6
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeJWT
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "authenticated"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks a fully defaulted configuration.
//
//nolint:cyclop // Flat list of checks
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver)
	}

	switch cfg.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm.provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	if cfg.LLM.RetryAttempts < 1 {
		return fmt.Errorf("llm.retry_attempts must be at least 1")
	}

	switch cfg.Embedding.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding.provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.BatchSize < 1 || cfg.Embedding.BatchSize > 2048 {
		return fmt.Errorf("embedding.batch_size must be between 1 and 2048")
	}

	if cfg.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1")
	}
	if cfg.Ingest.StepAttempts < 1 {
		return fmt.Errorf("ingest.step_attempts must be at least 1")
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkTokens {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_tokens)")
	}

	if cfg.RAG.TopK < 1 || cfg.RAG.TopK > 50 {
		return fmt.Errorf("rag.top_k must be between 1 and 50")
	}
	if cfg.RAG.MinSimilarity < -1 || cfg.RAG.MinSimilarity > 1 {
		return fmt.Errorf("rag.min_similarity must be between -1 and 1")
	}

	switch cfg.Auth.Mode {
	case AuthModeJWT, AuthModeDisabled:
	default:
		return fmt.Errorf("auth.mode must be %q or %q", AuthModeJWT, AuthModeDisabled)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseURL returns the configured URL or the DATABASE_URL secret.
func (c *Config) DatabaseURL() (string, error) {
	if c.Database.URL != "" {
		return c.Database.URL, nil
	}
	return GetSecret(SecretDatabaseURL)
}
