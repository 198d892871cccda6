package platform

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)(https?://[^\s<>"{}|\\^` + "`" + `\[\]]+)`)
	markdownPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// ExtractURLs extracts all URLs from message text, in order of appearance.
// Handles plain links and markdown [text](url) links; duplicates are dropped.
func ExtractURLs(message string) []string {
	var urls []string
	seen := make(map[string]bool)

	for _, match := range urlPattern.FindAllString(message, -1) {
		match = strings.Trim(match, ".,;:!?)")
		if isValidURL(match) && !seen[match] {
			urls = append(urls, match)
			seen[match] = true
		}
	}

	for _, match := range markdownPattern.FindAllStringSubmatch(message, -1) {
		if len(match) >= 3 {
			link := match[2]
			if isValidURL(link) && !seen[link] {
				urls = append(urls, link)
				seen[link] = true
			}
		}
	}

	return urls
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
