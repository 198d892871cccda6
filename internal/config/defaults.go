package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.parsebot/workspace",
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			AutoDetectLinks:       true,
			RateBurst:             5,
			RatePerMinute:         30,
		},
		Endpoints: map[string]EndpointConfig{
			"video": {
				URL:            "",
				Kind:           "video",
				TimeoutSeconds: 10,
			},
			"image": {
				URL:            "",
				Kind:           "image",
				TimeoutSeconds: 10,
			},
		},
		Platforms: DefaultPlatforms(),
		Commands: []CommandConfig{
			{Trigger: "/video", Kind: "video"},
			{Trigger: "/image", Kind: "image"},
			{Trigger: "/parse"},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTLMinutes: 60,
			MaxEntries: 1000,
		},
		Download: DownloadConfig{
			Enabled:        false,
			Dir:            "~/.parsebot/downloads",
			MaxSizeMB:      200,
			TimeoutSeconds: 120,
		},
		Expander: ExpanderConfig{
			Mode:     "http",
			Headless: true,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Port:    9090,
				Path:    "/webhook",
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.parsebot/history.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
	}
}

// DefaultPlatforms is the built-in platform rule table. Order matters: rules
// are tried first to last, so more specific hosts (zoo.weibo.com,
// kg.quanmin.com) come before the broader ones they would otherwise lose to.
func DefaultPlatforms() []PlatformConfig {
	return []PlatformConfig{
		{Name: "douyin", Pattern: `(www|v)\.douyin\.com`, Kind: "video"},
		{Name: "kuaishou", Pattern: `(www|v)\.kuaishou\.com`, Kind: "video"},
		{Name: "xiaohongshu", Pattern: `xiaohongshu\.com|xhslink\.com`, Kind: "image"},
		{Name: "pipix", Pattern: `pipix\.mndmedia\.com`, Kind: "video"},
		{Name: "xigua", Pattern: `xigua\.video`, Kind: "video"},
		{Name: "zuiyou", Pattern: `zuiyou\.com`, Kind: "video"},
		{Name: "huoshan", Pattern: `huoshan\.com`, Kind: "video"},
		{Name: "lvzhou", Pattern: `zoo\.weibo\.com`, Kind: "video"},
		{Name: "weibo", Pattern: `weibo\.com`, Kind: "video"},
		{Name: "weishi", Pattern: `weishi\.tv`, Kind: "video"},
		{Name: "bilibili", Pattern: `bilibili\.com|b23\.tv`, Kind: "video"},
		{Name: "momo", Pattern: `momom\.com`, Kind: "video"},
		{Name: "kge", Pattern: `kg\.quanmin\.com`, Kind: "video"},
		{Name: "quanmin", Pattern: `quanmin\.com`, Kind: "video"},
		{Name: "doupai", Pattern: `dou\.pai\.com`, Kind: "video"},
		{Name: "meipai", Pattern: `mei\.pai\.com`, Kind: "video"},
		{Name: "liujianfang", Pattern: `liujianfang\.com`, Kind: "video"},
		{Name: "lishipin", Pattern: `lireader\.com`, Kind: "video"},
		{Name: "huya", Pattern: `huya\.com`, Kind: "video"},
		{Name: "xinpianchang", Pattern: `xinpianchang\.com`, Kind: "video"},
		{Name: "acfun", Pattern: `acfun\.cn`, Kind: "video"},
	}
}
