package platform

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"parsebot/internal/config"
	"parsebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func defaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(config.DefaultPlatforms(), testLogger())
	if err != nil {
		t.Fatalf("compile default rules: %v", err)
	}
	return m
}

func TestMatchURL_DefaultTable(t *testing.T) {
	m := defaultMatcher(t)

	cases := []struct {
		url      string
		platform string
		kind     domain.MediaKind
	}{
		{"https://www.douyin.com/video/7123456789", "douyin", domain.MediaVideo},
		{"https://v.douyin.com/iFxyz12/", "douyin", domain.MediaVideo},
		{"https://www.kuaishou.com/short-video/3xabc", "kuaishou", domain.MediaVideo},
		{"https://www.xiaohongshu.com/explore/abcdef", "xiaohongshu", domain.MediaImage},
		{"http://xhslink.com/AbCdEf", "xiaohongshu", domain.MediaImage},
		{"https://www.bilibili.com/video/BV1xx411c7mD", "bilibili", domain.MediaVideo},
		{"https://b23.tv/abc123", "bilibili", domain.MediaVideo},
		{"https://weibo.com/tv/show/1034:489", "weibo", domain.MediaVideo},
		{"https://www.huya.com/123", "huya", domain.MediaVideo},
		{"https://www.acfun.cn/v/ac12345", "acfun", domain.MediaVideo},
	}

	for _, tc := range cases {
		rule, ok := m.MatchURL(tc.url)
		if !ok {
			t.Errorf("%s: expected match", tc.url)
			continue
		}
		if rule.Name != tc.platform {
			t.Errorf("%s: expected platform %s, got %s", tc.url, tc.platform, rule.Name)
		}
		if rule.Kind != tc.kind {
			t.Errorf("%s: expected kind %s, got %s", tc.url, tc.kind, rule.Kind)
		}
	}
}

func TestMatchURL_NoMatch(t *testing.T) {
	m := defaultMatcher(t)
	if _, ok := m.MatchURL("https://example.com/watch?v=123"); ok {
		t.Error("example.com should not match any rule")
	}
}

func TestMatchURL_FirstRuleWins(t *testing.T) {
	// zoo.weibo.com is a weibo.com suffix; the more specific rule is declared
	// first and must take the match.
	m := defaultMatcher(t)
	rule, ok := m.MatchURL("https://zoo.weibo.com/status/42")
	if !ok {
		t.Fatal("expected match")
	}
	if rule.Name != "lvzhou" {
		t.Errorf("expected lvzhou to win over weibo, got %s", rule.Name)
	}

	rule, ok = m.MatchURL("https://kg.quanmin.com/play/99")
	if !ok {
		t.Fatal("expected match")
	}
	if rule.Name != "kge" {
		t.Errorf("expected kge to win over quanmin, got %s", rule.Name)
	}
}

func TestMatch_FromMessageText(t *testing.T) {
	m := defaultMatcher(t)

	match, ok := m.Match("check this out https://www.douyin.com/video/123 so cool")
	if !ok {
		t.Fatal("expected match in message text")
	}
	if match.Rule.Name != "douyin" {
		t.Errorf("expected douyin, got %s", match.Rule.Name)
	}
	if match.URL != "https://www.douyin.com/video/123" {
		t.Errorf("unexpected extracted URL: %s", match.URL)
	}
}

func TestMatch_SkipsUnknownLinks(t *testing.T) {
	m := defaultMatcher(t)

	// First link is unknown, second is supported: the supported one wins.
	match, ok := m.Match("https://example.com/a and https://www.bilibili.com/video/BV1")
	if !ok {
		t.Fatal("expected match")
	}
	if match.Rule.Name != "bilibili" {
		t.Errorf("expected bilibili, got %s", match.Rule.Name)
	}
}

func TestMatch_NoLink(t *testing.T) {
	m := defaultMatcher(t)
	if _, ok := m.Match("just a plain message"); ok {
		t.Error("expected no match for plain text")
	}
}

func TestNewMatcher_BadPattern(t *testing.T) {
	_, err := NewMatcher([]config.PlatformConfig{{Name: "bad", Pattern: `[`, Kind: "video"}}, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestExtractURLs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "see https://a.com/x now", []string{"https://a.com/x"}},
		{"trailing punctuation", "link: https://a.com/x.", []string{"https://a.com/x"}},
		{"markdown", "[video](https://a.com/x)", []string{"https://a.com/x"}},
		{"dedupe", "https://a.com/x https://a.com/x", []string{"https://a.com/x"}},
		{"none", "no links here", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractURLs(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestLoadRulesDir(t *testing.T) {
	dir := t.TempDir()
	pack := `
- name: redgifs
  pattern: redgifs\.com
  kind: video
- name: imgur
  pattern: imgur\.com
  kind: image
`
	if err := os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRulesDir(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Name != "redgifs" || rules[0].Kind != "video" {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Name != "imgur" || rules[1].Kind != "image" {
		t.Errorf("unexpected second rule: %+v", rules[1])
	}
}

func TestLoadRulesDir_Missing(t *testing.T) {
	rules, err := LoadRulesDir(filepath.Join(t.TempDir(), "absent"), testLogger())
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if rules != nil {
		t.Errorf("expected nil rules, got %v", rules)
	}
}
