package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"parsebot/internal/browser"
	"parsebot/internal/bus"
	"parsebot/internal/cache"
	"parsebot/internal/channel"
	"parsebot/internal/config"
	"parsebot/internal/domain"
	"parsebot/internal/download"
	"parsebot/internal/history"
	"parsebot/internal/metrics"
	"parsebot/internal/parser"
	"parsebot/internal/platform"
	"parsebot/internal/resolver"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "parsebot",
		Short: "ParseBot: watermark-free media link parser for chat",
		Long:  "ParseBot watches chat channels for short-video and image-gallery links (douyin, kuaishou, xiaohongshu, bilibili, ...) and replies with the watermark-free media resolved by configured parsing APIs.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.parsebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			logger.Info("next: set api_endpoints.video.url and api_endpoints.image.url, then enable a channel")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honoring the configured
// level and optional log file.
func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		path := config.ExpandPath(cfg.General.LogFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// pipeline bundles everything buildPipeline wires up.
type pipeline struct {
	service *parser.Service
	bus     *bus.InMemoryBus
	events  *bus.EventBus
	cache   domain.Cache
	history domain.HistoryStore
}

func (p *pipeline) close() {
	if p.cache != nil {
		p.cache.Close()
	}
	if p.history != nil {
		p.history.Close()
	}
	p.bus.Close()
}

// buildPipeline constructs the matcher, resolver factory, cache, history, and
// parse service from config.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	rules := cfg.Platforms
	if cfg.General.RulesDir != "" {
		extra, err := platform.LoadRulesDir(config.ExpandPath(cfg.General.RulesDir), logger)
		if err != nil {
			logger.Warn("rule pack load failed", "dir", cfg.General.RulesDir, "err", err)
		} else if len(extra) > 0 {
			// User rules take priority over the built-in table.
			rules = append(extra, rules...)
			logger.Info("rule packs loaded", "rules", len(extra))
		}
	}

	matcher, err := platform.NewMatcher(rules, logger)
	if err != nil {
		return nil, fmt.Errorf("platform rules: %w", err)
	}

	var parseCache domain.Cache
	if cfg.Cache.Enabled {
		ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
		switch cfg.Cache.Backend {
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
			})
			parseCache = cache.NewRedis(client, ttl)
		default:
			parseCache = cache.NewMemory(ttl, cfg.Cache.MaxEntries)
		}
	}

	var store domain.HistoryStore
	if cfg.History.Enabled {
		store, err = history.NewSQLiteStore(config.ExpandPath(cfg.History.DBPath), logger)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	}

	var expander resolver.Expander
	switch cfg.Expander.Mode {
	case "off":
	case "browser":
		httpExp := resolver.NewHTTPExpander(logger)
		browserExp := browser.NewExpander(browser.ExpanderConfig{
			ProfileDir: config.ExpandPath(cfg.Expander.ProfileDir),
			Headless:   cfg.Expander.Headless,
			Logger:     logger,
		})
		expander = resolver.NewCompositeExpander(httpExp, browserExp, cfg.Expander.BrowserHosts)
	default:
		expander = resolver.NewHTTPExpander(logger)
	}

	var downloader parser.Downloader
	if cfg.Download.Enabled {
		dl, err := download.New(download.Config{
			Dir:            config.ExpandPath(cfg.Download.Dir),
			MaxSizeMB:      cfg.Download.MaxSizeMB,
			TimeoutSeconds: cfg.Download.TimeoutSeconds,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("downloader: %w", err)
		}
		downloader = dl
	}

	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	svc := parser.NewService(parser.ServiceConfig{
		Bus:             messageBus,
		Matcher:         matcher,
		Resolvers:       resolver.NewFactory(cfg, logger),
		Cache:           parseCache,
		History:         store,
		Expander:        expander,
		Downloader:      downloader,
		Events:          events,
		Logger:          logger,
		Commands:        cfg.Commands,
		AutoDetectLinks: cfg.General.AutoDetectLinks,
		Concurrency:     cfg.General.MaxConcurrentMessages,
		RateBurst:       cfg.General.RateBurst,
		RatePerMinute:   cfg.General.RatePerMinute,
	})

	return &pipeline{
		service: svc,
		bus:     messageBus,
		events:  events,
		cache:   parseCache,
		history: store,
	}, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	setupLogger(cfg)

	if err := os.MkdirAll(config.ExpandPath(cfg.General.Workspace), 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	go p.service.Run(ctx)

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cliCh.Start(ctx, p.bus)
}

func resolveCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve [url]",
		Short: "Parse a single link and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.close()

			res, err := p.service.ResolveURL(ctx, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				data, _ := json.MarshalIndent(res, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			text, _ := parser.FormatResult(res)
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw parse result as JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and parse history summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			configured := 0
			for name, ep := range cfg.Endpoints {
				if ep.URL != "" {
					configured++
					logger.Info("endpoint", "name", name, "kind", ep.Kind)
				}
			}
			logger.Info("endpoints", "configured", configured, "total", len(cfg.Endpoints))
			logger.Info("platforms", "rules", len(cfg.Platforms))
			logger.Info("cache", "enabled", cfg.Cache.Enabled, "backend", cfg.Cache.Backend)

			if !cfg.History.Enabled {
				return nil
			}
			store, err := history.NewSQLiteStore(config.ExpandPath(cfg.History.DBPath), logger)
			if err != nil {
				logger.Warn("history unavailable", "err", err)
				return nil
			}
			defer store.Close()

			ctx := context.Background()
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			logger.Info("history", "total", stats.Total, "ok", stats.Succeeded, "failed", stats.Failed)
			for platformName, count := range stats.ByPlatform {
				logger.Info("history by platform", "platform", platformName, "parses", count)
			}

			recent, err := store.Recent(ctx, 5)
			if err != nil {
				return err
			}
			for _, rec := range recent {
				logger.Info("recent parse",
					"url", rec.SourceURL,
					"platform", rec.Platform,
					"status", rec.Status,
					"at", rec.CreatedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. cache.backend)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. cache.ttlMinutes 120)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels and the parse pipeline",
		Long:  "Starts every enabled channel (Telegram, Discord, Slack, webhook) plus the parse pipeline. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)

	if err := os.MkdirAll(config.ExpandPath(cfg.General.Workspace), 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	go p.service.Run(ctx)

	// History retention sweep.
	if p.history != nil && cfg.History.RetentionDays > 0 {
		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(12 * time.Hour)
			defer ticker.Stop()
			for {
				if _, err := p.history.Prune(ctx, retention); err != nil {
					logger.Warn("history prune failed", "err", err)
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	var channels []domain.Channel

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Webhook.Enabled {
		channels = append(channels, channel.NewWebhook(channel.WebhookConfig{
			Port:   cfg.Channels.Webhook.Port,
			Path:   cfg.Channels.Webhook.Path,
			Secret: cfg.Channels.Webhook.Secret,
			Logger: logger,
		}))
	}

	if len(channels) == 0 {
		p.close()
		return fmt.Errorf("no channels enabled; enable one in %s or run 'parsebot chat'", cfgPath)
	}

	for _, ch := range channels {
		go func(ch domain.Channel) {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(ctx, p.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("gateway started", "channels", len(channels), "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop error", "channel", ch.Name(), "err", err)
			}
		}
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		p.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}
