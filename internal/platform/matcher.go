// Package platform classifies links in chat messages against a table of
// known short-video and image-gallery platforms.
package platform

import (
	"fmt"
	"log/slog"
	"regexp"

	"parsebot/internal/config"
	"parsebot/internal/domain"
)

// Rule is a compiled platform rule. Immutable after NewMatcher.
type Rule struct {
	Name      string
	Kind      domain.MediaKind
	Endpoints []string
	pattern   *regexp.Regexp
}

// Matcher holds the ordered rule table. Rules are tried first to last and the
// first match wins, so callers control overlap priority through rule order.
type Matcher struct {
	rules  []Rule
	logger *slog.Logger
}

func NewMatcher(rules []config.PlatformConfig, logger *slog.Logger) (*Matcher, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, rc := range rules {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("platform %s: compile pattern: %w", rc.Name, err)
		}
		compiled = append(compiled, Rule{
			Name:      rc.Name,
			Kind:      domain.MediaKind(rc.Kind),
			Endpoints: rc.Endpoints,
			pattern:   re,
		})
	}
	return &Matcher{rules: compiled, logger: logger}, nil
}

// Match is the outcome of classifying a message: the rule that fired and the
// URL it fired on.
type Match struct {
	Rule *Rule
	URL  string
}

// Match extracts URLs from raw message text and classifies the first one that
// hits a rule. Returns false when the message carries no recognizable link.
func (m *Matcher) Match(text string) (Match, bool) {
	for _, u := range ExtractURLs(text) {
		if rule, ok := m.MatchURL(u); ok {
			return Match{Rule: rule, URL: u}, true
		}
	}
	return Match{}, false
}

// MatchURL classifies a single URL against the rule table.
func (m *Matcher) MatchURL(url string) (*Rule, bool) {
	for i := range m.rules {
		if m.rules[i].pattern.MatchString(url) {
			return &m.rules[i], true
		}
	}
	return nil, false
}

// Rules returns the rule table, in priority order.
func (m *Matcher) Rules() []Rule {
	return m.rules
}
