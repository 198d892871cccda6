package platform

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"parsebot/internal/config"

	"gopkg.in/yaml.v3"
)

// LoadRulesDir loads extra platform rules from YAML files in a directory.
// Each file holds a list of rules with name/pattern/kind/endpoints keys.
// Files that fail to parse are skipped with a warning so one bad rule pack
// cannot keep the bot from starting.
func LoadRulesDir(dir string, logger *slog.Logger) ([]config.PlatformConfig, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rules directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var rules []config.PlatformConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read rule pack", "path", path, "err", err)
			continue
		}

		var pack []config.PlatformConfig
		if err := yaml.Unmarshal(data, &pack); err != nil {
			logger.Warn("cannot parse rule pack", "path", path, "err", err)
			continue
		}

		for _, r := range pack {
			if r.Name == "" || r.Pattern == "" {
				logger.Warn("skipping rule without name or pattern", "path", path)
				continue
			}
			if r.Kind == "" {
				r.Kind = "video"
			}
			logger.Info("loaded platform rule", "name", r.Name, "path", path)
			rules = append(rules, r)
		}
	}

	return rules, nil
}
