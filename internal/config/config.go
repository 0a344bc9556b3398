package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server       ServerConfig       `json:"server"`
	Chatwoot     ChatwootConfig     `json:"chatwoot"`
	LLM          LLMConfig          `json:"llm"`
	LLMFallback  LLMConfig          `json:"llm_fallback"`
	Embeddings   EmbeddingsConfig   `json:"embeddings"`
	Storage      StorageConfig      `json:"storage"`
	Personas     PersonasConfig     `json:"personas"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Catalog      CatalogConfig      `json:"catalog"`
}

type ServerConfig struct {
	HTTPAddr           string   `json:"http_addr"`
	Secret             string   `json:"secret"`
	AllowOrigins       []string `json:"allow_origins"`
	RateLimitPerSecond float64  `json:"rate_limit_per_second"`
	RateLimitBurst     int      `json:"rate_limit_burst"`
	Workers            int      `json:"workers"`
	QueueSize          int      `json:"queue_size"`
	JobTimeoutSecs     int      `json:"job_timeout_secs"`
}

type ChatwootConfig struct {
	BaseURL         string `json:"base_url"`
	UserAccessToken string `json:"user_access_token"`
	TimeoutMS       int    `json:"timeout_ms"`
}

type LLMConfig struct {
	Provider        string   `json:"provider"`
	APIKey          string   `json:"api_key"`
	APIBase         string   `json:"api_base"`
	Model           string   `json:"model"`
	TimeoutMS       int      `json:"timeout_ms"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	Temperature     float64  `json:"temperature"`
	RedactPatterns  []string `json:"redact_patterns"`
}

type EmbeddingsConfig struct {
	APIBase    string `json:"api_base"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	TimeoutMS  int    `json:"timeout_ms"`
	CacheSize  int    `json:"cache_size"`
}

type StorageConfig struct {
	PostgresDSN string `json:"postgres_dsn"`
}

type PersonasConfig struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch"`
}

type OrchestratorConfig struct {
	TemporalAddr       string `json:"temporal_addr"`
	Namespace          string `json:"namespace"`
	TaskQueue          string `json:"task_queue"`
	HealthAddr         string `json:"health_addr"`
	PruneCron          string `json:"prune_cron"`
	ClaimRetentionDays int    `json:"claim_retention_days"`
}

type CatalogConfig struct {
	Enabled     bool   `json:"enabled"`
	DefaultCron string `json:"default_cron"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:           ":8000",
			AllowOrigins:       []string{"*"},
			RateLimitPerSecond: 5,
			RateLimitBurst:     20,
			Workers:            4,
			QueueSize:          256,
			JobTimeoutSecs:     120,
		},
		Chatwoot: ChatwootConfig{
			BaseURL:   "http://localhost:3000",
			TimeoutMS: 10000,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			APIKey:          "sk-local",
			APIBase:         "http://localhost:8011/v1",
			Model:           "qwen3-32b",
			TimeoutMS:       60000,
			MaxOutputTokens: 1024,
			Temperature:     0.7,
		},
		LLMFallback: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o",
			TimeoutMS:       60000,
			MaxOutputTokens: 1024,
			Temperature:     0.7,
		},
		Embeddings: EmbeddingsConfig{
			Model:      "bge-large-en-v1.5",
			Dimensions: 1024,
			TimeoutMS:  30000,
			CacheSize:  10000,
		},
		Personas: PersonasConfig{Dir: "personas"},
		Orchestrator: OrchestratorConfig{
			Namespace:          "default",
			TaskQueue:          "harbor-relay",
			PruneCron:          "30 4 * * *",
			ClaimRetentionDays: 7,
		},
		Catalog: CatalogConfig{DefaultCron: "0 3 * * *"},
	}
}

var lookupEnv = os.LookupEnv

// LoadConfig reads a JSON config over Default, applies environment overrides
// and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Secret, "HARBOR_SECRET")
	setString(&c.Chatwoot.BaseURL, "CHATWOOT_BASE_URL")
	setString(&c.Chatwoot.UserAccessToken, "CHATWOOT_USER_ACCESS_TOKEN")
	setString(&c.LLM.APIKey, "HARBOR_LLM_API_KEY")
	setString(&c.LLM.APIBase, "HARBOR_LLM_BASE_URL")
	setString(&c.LLM.Model, "HARBOR_LLM_MODEL")
	setString(&c.LLMFallback.APIKey, "HARBOR_LLM_FALLBACK_API_KEY")
	setString(&c.LLMFallback.Model, "HARBOR_LLM_FALLBACK_MODEL")
	setString(&c.Embeddings.APIBase, "HARBOR_EMBEDDINGS_BASE_URL")
	setString(&c.Embeddings.APIKey, "HARBOR_EMBEDDINGS_API_KEY")
	setString(&c.Storage.PostgresDSN, "DATABASE_URL")
	setString(&c.Personas.Dir, "HARBOR_PERSONAS_DIR")
	setString(&c.Orchestrator.TemporalAddr, "TEMPORAL_ADDR")
	if v, ok := lookupEnv("PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || port <= 0 || port > 65535 {
			return errors.New("PORT must be a valid port number")
		}
		c.Server.HTTPAddr = ":" + strconv.Itoa(port)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		return errors.New("server.http_addr required")
	}
	if strings.TrimSpace(c.Chatwoot.BaseURL) == "" {
		return errors.New("chatwoot.base_url required")
	}
	if strings.TrimSpace(c.Personas.Dir) == "" {
		return errors.New("personas.dir required")
	}
	if c.Server.Workers < 0 || c.Server.QueueSize < 0 {
		return errors.New("server.workers and server.queue_size must not be negative")
	}
	if err := validateLLM("llm", c.LLM, true); err != nil {
		return err
	}
	if err := validateLLM("llm_fallback", c.LLMFallback, false); err != nil {
		return err
	}
	if strings.TrimSpace(c.Embeddings.APIBase) != "" && strings.TrimSpace(c.Embeddings.Model) == "" {
		return errors.New("embeddings.model required when embeddings.api_base is set")
	}
	if c.Orchestrator.TemporalAddr != "" && strings.TrimSpace(c.Orchestrator.TaskQueue) == "" {
		return errors.New("orchestrator.task_queue required when orchestrator.temporal_addr is set")
	}
	if c.Orchestrator.ClaimRetentionDays < 0 {
		return errors.New("orchestrator.claim_retention_days must not be negative")
	}
	if c.Catalog.Enabled && strings.TrimSpace(c.Storage.PostgresDSN) == "" {
		return errors.New("storage.postgres_dsn required when catalog.enabled is true")
	}
	return nil
}

func validateLLM(prefix string, cfg LLMConfig, required bool) error {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		if required {
			return errors.New(prefix + ".provider required")
		}
		return nil
	}
	if provider != "openai" && provider != "anthropic" {
		return errors.New(prefix + ".provider must be openai or anthropic")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New(prefix + ".model required when " + prefix + ".provider is set")
	}
	if provider == "anthropic" && strings.TrimSpace(cfg.APIKey) == "" && required {
		return errors.New(prefix + ".api_key required for provider anthropic")
	}
	return nil
}
