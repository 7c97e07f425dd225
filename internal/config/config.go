package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service consumes.
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
	OpenAI OpenAIConfig
	Claude ClaudeConfig
	Ark    ArkConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	arkCfg, err := loadArkConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Relay:  relay,
		OpenAI: loadOpenAIConfig(),
		Claude: loadClaudeConfig(),
		Ark:    arkCfg,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RelayConfig describes the session/queue engine tunables.
type RelayConfig struct {
	// ActivateTrigger and StopTrigger switch a conversation in and out of AI
	// mode. Matched case-insensitively against the whole message.
	ActivateTrigger string
	StopTrigger     string
	// DelayMin/DelayMax bound the pacing pause before every generation call.
	DelayMin time.Duration
	DelayMax time.Duration
	// MemoryLimit is the number of exchange pairs kept in history.
	MemoryLimit int
	// IdleTimeout is how long a session may sit quiet before eviction;
	// SweepInterval is the reaper period.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// DailyQuota is the shared per-day cost ceiling in approximate token
	// units.
	DailyQuota int64
	// MaxTokens caps every generation request.
	MaxTokens int64
}

func loadRelayConfig() (RelayConfig, error) {
	delayMin, err := parseDurationMSEnv("AI_DELAY_MIN_MS", 4500*time.Millisecond)
	if err != nil {
		return RelayConfig{}, err
	}

	delayMax, err := parseDurationMSEnv("AI_DELAY_MAX_MS", 7*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	if delayMax < delayMin {
		return RelayConfig{}, fmt.Errorf("AI_DELAY_MAX_MS must not be below AI_DELAY_MIN_MS")
	}

	memoryLimit, err := parseIntEnv("AI_MEMORY_LIMIT", 20)
	if err != nil {
		return RelayConfig{}, err
	}
	if memoryLimit < 1 {
		return RelayConfig{}, fmt.Errorf("AI_MEMORY_LIMIT must be at least 1")
	}

	idleSeconds, err := parseIntEnv("AI_IDLE_TIMEOUT_SECONDS", 1800)
	if err != nil {
		return RelayConfig{}, err
	}

	sweepSeconds, err := parseIntEnv("AI_SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return RelayConfig{}, err
	}

	dailyQuota, err := parseIntEnv("AI_DAILY_QUOTA", 100000)
	if err != nil {
		return RelayConfig{}, err
	}

	maxTokens, err := parseIntEnv("AI_MAX_TOKENS", 400)
	if err != nil {
		return RelayConfig{}, err
	}

	return RelayConfig{
		ActivateTrigger: getEnvOrDefault("AI_TRIGGER", "AI CHAT"),
		StopTrigger:     getEnvOrDefault("AI_STOP_TRIGGER", "STOP AI"),
		DelayMin:        delayMin,
		DelayMax:        delayMax,
		MemoryLimit:     memoryLimit,
		IdleTimeout:     time.Duration(idleSeconds) * time.Second,
		SweepInterval:   time.Duration(sweepSeconds) * time.Second,
		DailyQuota:      int64(dailyQuota),
		MaxTokens:       int64(maxTokens),
	}, nil
}

// OpenAIConfig describes the OpenAI backend.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Enabled reports whether the backend has credentials.
func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

func loadOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
	}
}

// ClaudeConfig describes the Anthropic backend.
type ClaudeConfig struct {
	APIKey string
	Model  string
}

// Enabled reports whether the backend has credentials.
func (c ClaudeConfig) Enabled() bool { return c.APIKey != "" }

func loadClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		APIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		Model:  getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-haiku-20240307"),
	}
}

// ArkConfig describes the Volcengine Ark backend.
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required Ark credentials are present.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates an Ark model instance from the configuration.
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadArkConfig() (ArkConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return ArkConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return ArkConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ArkConfig{}, err
	}

	return ArkConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationMSEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseIntEnv(key, int(defaultValue/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("invalid %s value: must not be negative", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
