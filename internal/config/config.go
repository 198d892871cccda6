package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for ParseBot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Endpoints map[string]EndpointConfig `json:"api_endpoints"`
	Platforms []PlatformConfig          `json:"supported_platforms"`
	Commands  []CommandConfig           `json:"commands"`
	Cache     CacheConfig               `json:"cache"`
	Download  DownloadConfig            `json:"download"`
	Expander  ExpanderConfig            `json:"expander"`
	Channels  ChannelsConfig            `json:"channels"`
	History   HistoryConfig             `json:"history"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Workspace             string  `json:"workspace"`
	LogLevel              string  `json:"logLevel"`
	LogFile               string  `json:"logFile,omitempty"`
	MaxConcurrentMessages int     `json:"maxConcurrentMessages"`
	AutoDetectLinks       bool    `json:"autoDetectLinks"` // parse bare links without a trigger command
	RateBurst             int     `json:"rateBurst,omitempty"`
	RatePerMinute         float64 `json:"ratePerMinute,omitempty"`
	RulesDir              string  `json:"rulesDir,omitempty"` // extra platform rule packs (YAML)
}

// EndpointConfig describes one upstream parsing API. The endpoint receives
// the source link as a `url` query parameter and answers with a JSON
// envelope {code, msg, data}.
type EndpointConfig struct {
	URL            string            `json:"url"`
	Kind           string            `json:"kind"` // "video" | "image"
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// PlatformConfig is one platform rule: a name, a URL pattern, and the
// endpoints to try for links that match. Rules are evaluated in declaration
// order; the first match wins.
type PlatformConfig struct {
	Name      string   `json:"name"`
	Pattern   string   `json:"pattern"`
	Kind      string   `json:"kind"`                // "video" | "image"
	Endpoints []string `json:"endpoints,omitempty"` // failover order; empty = all endpoints of the rule's kind
}

// CommandConfig is a chat trigger such as "/video <link>". A command with an
// explicit kind forces that endpoint family regardless of the matched rule.
type CommandConfig struct {
	Trigger string `json:"trigger"`
	Kind    string `json:"kind,omitempty"` // "video" | "image" | "" (use the rule's kind)
}

type CacheConfig struct {
	Enabled    bool        `json:"enabled"`
	Backend    string      `json:"backend"` // "memory" | "redis"
	TTLMinutes int         `json:"ttlMinutes"`
	MaxEntries int         `json:"maxEntries"` // memory backend only
	Redis      RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

type DownloadConfig struct {
	Enabled        bool   `json:"enabled"`
	Dir            string `json:"dir"`
	MaxSizeMB      int    `json:"maxSizeMB"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// ExpanderConfig controls short-link expansion before dispatch. Mobile share
// links (v.douyin.com, xhslink.com) redirect to the canonical URL the
// platform rules match against.
type ExpanderConfig struct {
	Mode         string   `json:"mode"`                   // "off" | "http" | "browser"
	BrowserHosts []string `json:"browserHosts,omitempty"` // hosts that only resolve via JS
	ProfileDir   string   `json:"profileDir,omitempty"`
	Headless     bool     `json:"headless"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	CLI      CLIConfig      `json:"cli"`
	Webhook  WebhookConfig  `json:"webhook,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
	Secret  string `json:"secret,omitempty"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.parsebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parsebot"
	}
	return filepath.Join(home, ".parsebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.RulesDir = ExpandPath(cfg.General.RulesDir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Download.Dir = ExpandPath(cfg.Download.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	for name, ep := range cfg.Endpoints {
		switch ep.Kind {
		case "video", "image":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("api_endpoints.%s: kind must be video or image", name))
		}
		if ep.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Sprintf("api_endpoints.%s: timeoutSeconds must be >= 0", name))
		}
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Platforms {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("supported_platforms[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("supported_platforms: duplicate platform %q", p.Name))
		}
		seen[p.Name] = true
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("supported_platforms.%s: invalid pattern: %v", p.Name, err))
		}
		switch p.Kind {
		case "video", "image":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("supported_platforms.%s: kind must be video or image", p.Name))
		}
		for _, ep := range p.Endpoints {
			if _, ok := cfg.Endpoints[ep]; !ok {
				errs = append(errs, fmt.Sprintf("supported_platforms.%s references unknown endpoint: %s", p.Name, ep))
			}
		}
	}

	for i, c := range cfg.Commands {
		if c.Trigger == "" {
			errs = append(errs, fmt.Sprintf("commands[%d]: trigger is required", i))
		}
		switch c.Kind {
		case "", "video", "image":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("commands[%d]: kind must be video, image, or empty", i))
		}
	}

	switch cfg.Cache.Backend {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, "cache.backend must be memory or redis")
	}
	if cfg.Cache.TTLMinutes < 1 {
		errs = append(errs, "cache.ttlMinutes must be >= 1")
	}
	if cfg.Cache.Backend == "memory" && cfg.Cache.MaxEntries < 1 {
		errs = append(errs, "cache.maxEntries must be >= 1 for the memory backend")
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.Enabled && cfg.Cache.Redis.Addr == "" {
		errs = append(errs, "cache.redis.addr is required for the redis backend")
	}

	switch cfg.Expander.Mode {
	case "off", "http", "browser":
		// valid
	default:
		errs = append(errs, "expander.mode must be off, http, or browser")
	}

	if cfg.Channels.Webhook.Port < 0 || cfg.Channels.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}
	if cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}
	if cfg.Download.MaxSizeMB < 1 {
		errs = append(errs, "download.maxSizeMB must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
