package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"parsebot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ParseBot installation",
		Long: `Verifies that ParseBot's configuration, parsing endpoints, cache backend,
and history database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ParseBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'parsebot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Workspace directory exists
			workspace := config.ExpandPath(cfg.General.Workspace)
			if workspace != "" {
				if info, err := os.Stat(workspace); err != nil {
					printFail("Workspace", fmt.Sprintf("not found: %s", workspace))
					failed++
				} else if !info.IsDir() {
					printFail("Workspace", fmt.Sprintf("not a directory: %s", workspace))
					failed++
				} else {
					printPass("Workspace", workspace)
					passed++
				}
			} else {
				printWarn("Workspace", "not configured (using current directory)")
				warned++
			}

			// 4. Parsing endpoints configured and reachable
			configured := 0
			for name, ep := range cfg.Endpoints {
				if ep.URL == "" {
					printWarn("Endpoint: "+name, "no URL configured")
					warned++
					continue
				}
				configured++
				if err := checkEndpoint(ep.URL); err != nil {
					printWarn("Endpoint: "+name, fmt.Sprintf("unreachable: %v", err))
					warned++
				} else {
					printPass("Endpoint: "+name, ep.URL)
					passed++
				}
			}
			if configured == 0 {
				printFail("Endpoints", "no parsing endpoint configured; every parse will fail")
				failed++
			}

			// 5. Cache backend
			if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
				if err := checkRedis(cfg.Cache.Redis); err != nil {
					printFail("Redis cache", err.Error())
					failed++
				} else {
					printPass("Redis cache", cfg.Cache.Redis.Addr)
					passed++
				}
			}

			// 6. History database writable
			if cfg.History.Enabled {
				dbPath := config.ExpandPath(cfg.History.DBPath)
				if err := checkDatabase(dbPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", dbPath)
					passed++
				}
			}

			// 7. Check ports
			if cfg.Channels.Webhook.Enabled {
				port := cfg.Channels.Webhook.Port
				if port == 0 {
					port = 9090
				}
				if err := checkPort(port); err != nil {
					printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Webhook port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}
			if cfg.Metrics.Enabled {
				port := cfg.Metrics.Port
				if port == 0 {
					port = 9091
				}
				if err := checkPort(port); err != nil {
					printWarn("Metrics port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Metrics port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// 8. Check log file writable
			if cfg.General.LogFile != "" {
				dir := filepath.Dir(config.ExpandPath(cfg.General.LogFile))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ParseBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nParseBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ParseBot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkEndpoint sends a HEAD request to verify the parsing API host answers
// at all. Any HTTP status counts as reachable.
func checkEndpoint(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot ping %s: %w", cfg.Addr, err)
	}
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
