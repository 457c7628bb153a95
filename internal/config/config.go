package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds assistant configuration loaded from YAML, secrets and env.
type Config struct {
	BotName             string
	ConfidenceThreshold float64
	DefaultCity         string
	Language            string

	NLUModel   string
	NLUTimeout time.Duration

	ConversationModel string
	ChatHistoryLimit  int
	BotInstructions   string
	Temperature       float32
	MaxOutputTokens   int32
	GeneratorTimeout  time.Duration
	OpenAIURL         string

	GeminiAPIKey string
	OpenAIAPIKey string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration

	CacheTTL        time.Duration
	CacheBackend    string // "in_memory", "memcached" or "redis"
	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TrackedCities []string
	WarmCache     bool
	WarmInterval  time.Duration

	SpotifyEnabled      bool
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRefreshToken string
	SpotifyCallbackURL  string
	SpotifyAuthTimeout  time.Duration

	ServerPort       string
	RequestTimeout   time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int

	ChatLogDir  string
	SecretsPath string
}

type fileConfig struct {
	Assistant struct {
		BotName             string   `yaml:"bot_name"`
		ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
		DefaultCity         string   `yaml:"default_city"`
		Language            string   `yaml:"language"`
	} `yaml:"assistant"`

	NLU struct {
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"nlu"`

	Conversation struct {
		Model            string   `yaml:"model"`
		ChatHistoryLimit int      `yaml:"chat_history_limit"`
		Instructions     string   `yaml:"instructions"`
		Temperature      *float32 `yaml:"temperature"`
		MaxOutputTokens  int32    `yaml:"max_output_tokens"`
		Timeout          string   `yaml:"timeout"`
		OpenAIURL        string   `yaml:"openai_url"`
	} `yaml:"conversation"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		TrackedCities []string `yaml:"tracked_cities"`
		Warm          bool     `yaml:"warm"`
		WarmInterval  string   `yaml:"warm_interval"`
	} `yaml:"cache"`

	Music struct {
		Enabled     *bool  `yaml:"enabled"`
		CallbackURL string `yaml:"callback_url"`
		AuthTimeout string `yaml:"auth_timeout"`
	} `yaml:"music"`

	Server struct {
		Port             string `yaml:"port"`
		RequestTimeout   string `yaml:"request_timeout"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"server"`

	Logging struct {
		ChatLogDir string `yaml:"chat_log_dir"`
	} `yaml:"logging"`
}

// Secrets is the layout of config/secrets.yaml. The music handler rewrites the
// spotify section when it obtains a new refresh token.
type Secrets struct {
	GeminiAPIKey  string         `yaml:"gemini_api_key,omitempty"`
	OpenAIAPIKey  string         `yaml:"openai_api_key,omitempty"`
	RedisPassword string         `yaml:"redis_password,omitempty"`
	Spotify       SpotifySecrets `yaml:"spotify,omitempty"`
}

type SpotifySecrets struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
}

// Defaults shared with callers that build components without a config file.
const (
	DefaultBotName             = "Drone"
	DefaultConfidenceThreshold = 0.33
	DefaultCity                = "San Francisco"
	DefaultLanguage            = "en-US"
	DefaultConversationModel   = "gemini-2.0-flash"
	DefaultChatHistoryLimit    = 8
	DefaultBotInstructions     = "You are a voice assistant. Respond helpfully, but your responses can be quick-witted and snarky. Keep replies to one or two sentences."
	DefaultSpotifyCallbackURL  = "http://localhost:8123/spotify/oauth2_code_callback"
)

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading a .env file from the working directory if one exists. API keys come from
// env or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{SecretsPath: filepath.Join(cwd, "config", "secrets.yaml")}
	sec, err := ReadSecrets(cfg.SecretsPath)
	if err != nil {
		return nil, err
	}

	cfg.BotName = firstNonEmpty(strings.TrimSpace(fc.Assistant.BotName), DefaultBotName)
	cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	if fc.Assistant.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *fc.Assistant.ConfidenceThreshold
	}
	cfg.DefaultCity = firstNonEmpty(strings.TrimSpace(fc.Assistant.DefaultCity), DefaultCity)
	cfg.Language = firstNonEmpty(strings.TrimSpace(fc.Assistant.Language), DefaultLanguage)

	cfg.NLUModel = firstNonEmpty(strings.TrimSpace(fc.NLU.Model), "gemini-2.0-flash")
	cfg.NLUTimeout = parseDuration(fc.NLU.Timeout, 5*time.Second)

	cfg.ConversationModel = firstNonEmpty(
		strings.TrimSpace(os.Getenv("CONVERSATION_MODEL")),
		strings.TrimSpace(fc.Conversation.Model),
		DefaultConversationModel,
	)
	cfg.ChatHistoryLimit = fc.Conversation.ChatHistoryLimit
	if cfg.ChatHistoryLimit <= 0 {
		cfg.ChatHistoryLimit = DefaultChatHistoryLimit
	}
	cfg.BotInstructions = firstNonEmpty(strings.TrimSpace(fc.Conversation.Instructions), DefaultBotInstructions)
	cfg.Temperature = 0.9
	if fc.Conversation.Temperature != nil {
		cfg.Temperature = *fc.Conversation.Temperature
	}
	cfg.MaxOutputTokens = fc.Conversation.MaxOutputTokens
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 256
	}
	cfg.GeneratorTimeout = parseDuration(fc.Conversation.Timeout, 30*time.Second)
	cfg.OpenAIURL = firstNonEmpty(strings.TrimSpace(fc.Conversation.OpenAIURL), "https://api.openai.com/v1")

	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), sec.GeminiAPIKey)
	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), sec.OpenAIAPIKey)

	cfg.WeatherAPIURL = firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.URL), "https://weather.com/api/v1/p/redux-dal")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, time.Second)
	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 24*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 15*time.Second)
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(
		strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		strings.TrimSpace(fc.Cache.Redis.Addr),
		"localhost:6379",
	)
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.TrackedCities = fc.Cache.TrackedCities
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.SpotifyEnabled = true
	if fc.Music.Enabled != nil {
		cfg.SpotifyEnabled = *fc.Music.Enabled
	}
	cfg.SpotifyClientID = firstNonEmpty(os.Getenv("SPOTIFY_CLIENT_ID"), sec.Spotify.ClientID)
	cfg.SpotifyClientSecret = firstNonEmpty(os.Getenv("SPOTIFY_CLIENT_SECRET"), sec.Spotify.ClientSecret)
	cfg.SpotifyRefreshToken = sec.Spotify.RefreshToken
	cfg.SpotifyCallbackURL = firstNonEmpty(strings.TrimSpace(fc.Music.CallbackURL), DefaultSpotifyCallbackURL)
	cfg.SpotifyAuthTimeout = parseDuration(fc.Music.AuthTimeout, 120*time.Second)

	cfg.ServerPort = firstNonEmpty(strings.TrimSpace(fc.Server.Port), "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 30*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 10*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Server.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Server.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ChatLogDir = firstNonEmpty(strings.TrimSpace(fc.Logging.ChatLogDir), filepath.Join("logs", "conversation", "chats"))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadSecrets parses the secrets file at path. A missing file yields empty secrets.
func ReadSecrets(path string) (Secrets, error) {
	var sec Secrets
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// WriteSecrets replaces the secrets file at path with sec. The file is readable by the
// owner only.
func WriteSecrets(path string, sec Secrets) error {
	data, err := yaml.Marshal(sec)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace secrets file: %w", err)
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above the backend timeout so a turn can outlive one backend call.
func validate(cfg *Config) error {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("assistant.confidence_threshold must be within [0, 1], got %v", cfg.ConfidenceThreshold)
	}
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY required (set env or config/secrets.yaml gemini_api_key)")
	}
	if strings.HasPrefix(cfg.ConversationModel, "gpt-") && cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY required for conversation model %q", cfg.ConversationModel)
	}
	return nil
}
