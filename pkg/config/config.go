package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Environment variables understood by ApplyEnv.
const (
	EnvAPIKey  = "OPENAI_API_KEY"
	EnvModel   = "MODEL"
	EnvBaseURL = "API_BASE_URL"
)

const (
	DefaultModel   = "glm-4-tools"
	DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4/"
)

// DefaultSystemPrompt is used when the config does not set system_prompt.
const DefaultSystemPrompt = `You are a helpful AI assistant. When users ask for information that can be obtained through tools, you MUST use the available tools.

Available tools:
- current_time: get the current date and time
- shell: run a shell command
- read_file: read a file and show a preview
- get_flight_number: look up the flight number between two cities
- get_ticket_price: look up the ticket price of a flight

Do not guess or make up information. Always use tools when they are relevant. For flight queries, ask for missing required information if the user doesn't provide complete details.`

// ProviderConfig 定義一組模型的配置
// Every model listed becomes one client; several clients are tried in order.
type ProviderConfig struct {
	// Type selects the registered provider factory: "compat", "openai",
	// "anthropic", "ollama" or "gemini".
	Type string `json:"type"`
	// APIKeys are tried round-robin per model when more than one is given.
	APIKeys []string `json:"api_keys,omitempty"`
	Models  []string `json:"models"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty"`
	// Options holds sampling parameters (temperature, top_p, max_tokens)
	// and provider specific switches.
	Options map[string]any `json:"options,omitempty"`
}

// Config defines the application configuration. It maps directly to
// config.json (or config.yaml) and is completed by Default values.
type Config struct {
	// Providers lists the LLM backends. At least one is required.
	Providers []ProviderConfig `json:"providers"`
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels,omitempty"`
	// SystemPrompt is injected at the head of every backend request when the
	// history holds no system entry. It is never stored in the history.
	SystemPrompt string `json:"system_prompt"`

	// MaxTurns bounds the backend calls of one user exchange.
	MaxTurns int `json:"max_turns"`
	// RequestTimeoutMs bounds each backend call, including its streamed body.
	RequestTimeoutMs int `json:"request_timeout_ms"`
	// Stream selects streamed turns; false uses the non-streaming endpoint.
	Stream bool `json:"stream"`
	// ShowThinking forwards the reasoning channel to the user.
	ShowThinking bool `json:"show_thinking"`
	// FeedToolErrors keeps the exchange going after a tool failure; the failure
	// text is handed back to the model instead of aborting.
	FeedToolErrors bool `json:"feed_tool_errors"`
	// EnableTools globally toggles tool calling. If false, no tools are offered.
	EnableTools bool `json:"enable_tools"`
	// EnableShell registers the shell tool. Off by default.
	EnableShell bool `json:"enable_shell"`

	// MaxRetries is the number of attempts per provider before falling back
	// to the next one. Only opening a turn is retried.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base wait between consecutive attempts.
	RetryDelayMs int `json:"retry_delay_ms"`

	// OllamaDefaultURL is used for ollama providers without base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// TelegramMessageLimit is the maximum character count of a single
	// Telegram message. Longer replies are split.
	TelegramMessageLimit int `json:"telegram_message_limit"`

	// DebugChunks writes every raw backend chunk under debug/chunks.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// Default returns a Config initialized with safe default values.
func Default() *Config {
	return &Config{
		SystemPrompt:         DefaultSystemPrompt,
		MaxTurns:             10,
		RequestTimeoutMs:     120000,
		Stream:               true,
		ShowThinking:         true,
		EnableTools:          true,
		MaxRetries:           3,
		RetryDelayMs:         500,
		OllamaDefaultURL:     "http://localhost:11434",
		TelegramMessageLimit: 4000,
		LogLevel:             "info",
	}
}

// RequestTimeout returns RequestTimeoutMs as a duration; zero means no timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// RetryDelay returns RetryDelayMs as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Validate ensures the configuration contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("no providers configured (set 'providers' or " + EnvAPIKey + ")")
	}
	for i, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("providers[%d]: missing type", i)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("providers[%d] (%s): at least one model is required", i, p.Type)
		}
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.RequestTimeoutMs < 0 {
		return fmt.Errorf("request_timeout_ms must not be negative, got %d", c.RequestTimeoutMs)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ApplyEnv overlays the environment on the config. The API key, model and
// base URL apply to the first "compat" provider, which is created when the
// config has none and a key is present.
func (c *Config) ApplyEnv(getenv func(string) string) {
	key := getenv(EnvAPIKey)
	model := getenv(EnvModel)
	baseURL := getenv(EnvBaseURL)

	idx := -1
	for i, p := range c.Providers {
		if p.Type == "compat" {
			idx = i
			break
		}
	}
	if idx < 0 {
		if key == "" {
			return
		}
		c.Providers = append(c.Providers, ProviderConfig{
			Type:    "compat",
			Models:  []string{DefaultModel},
			BaseURL: DefaultBaseURL,
		})
		idx = len(c.Providers) - 1
	}

	p := &c.Providers[idx]
	if key != "" {
		p.APIKeys = []string{key}
	}
	if model != "" {
		p.Models = []string{model}
	}
	if baseURL != "" {
		p.BaseURL = baseURL
	}
}

// Load reads the configuration file at path on top of Default values.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
// A missing file is not an error: the defaults are returned so the
// environment alone can configure the program.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not found, using defaults", "file", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := Parse(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data into cfg. ext selects the format (".yaml", ".yml" or JSON).
// YAML is converted to JSON first so both formats share the json tags.
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		js, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		data = js
	}
	return json.Unmarshal(data, cfg)
}
