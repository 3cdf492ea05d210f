package explain

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// obfuscationPatterns match script encodings phishing kits use to hide
// credential stealers from static scanners.
var obfuscationPatterns = []*regexp.Regexp{
	// eval of a decoded string
	regexp.MustCompile(`eval\s*\(\s*(atob|unescape|decodeURIComponent|String\.fromCharCode)`),
	// long hex escape runs or base64 literals
	regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){10,}`),
	regexp.MustCompile(`['"][A-Za-z0-9+/=]{100,}['"]`),
	regexp.MustCompile(`document\.write\s*\(\s*(unescape|atob|decodeURIComponent)`),
	regexp.MustCompile(`new\s+Function\s*\(\s*['"][^'"]{50,}['"]\s*\)`),
	// Dean Edwards packer
	regexp.MustCompile(`eval\s*\(\s*function\s*\(\s*p\s*,\s*a\s*,\s*c\s*,\s*k\s*,\s*e\s*,\s*[dr]\s*\)`),
	// JSFuck
	regexp.MustCompile(`\[\s*!\s*\+\s*\[\s*\]\s*\]`),
	regexp.MustCompile(`String\.fromCharCode\s*\([^)]{50,}\)`),
}

var redirectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]*http-equiv\s*=\s*["']?refresh["']?[^>]*content\s*=\s*["']?\d+\s*;\s*url\s*=\s*["']?([^"'>\s]+)`),
	regexp.MustCompile(`window\.location(?:\.href)?\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`location\.href\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`location\.replace\s*\(\s*["']([^"']+)["']\s*\)`),
}

var hiddenIframePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<iframe[^>]*(?:width\s*=\s*["']?0\b|height\s*=\s*["']?0\b)[^>]*>`),
	regexp.MustCompile(`(?i)<iframe[^>]*style\s*=\s*["'][^"']*visibility\s*:\s*hidden[^"']*["'][^>]*>`),
	regexp.MustCompile(`(?i)<iframe[^>]*style\s*=\s*["'][^"']*display\s*:\s*none[^"']*["'][^>]*>`),
	// off-screen positioning
	regexp.MustCompile(`(?i)<iframe[^>]*style\s*=\s*["'][^"']*(?:left|top)\s*:\s*-\d{3,}[^"']*["'][^>]*>`),
}

// evasion reports techniques a page uses to hide its payload or to move the
// victim to another site.
func evasion(html string) []string {
	var out []string
	if matchesAny(obfuscationPatterns, html) {
		out = append(out, "Obfuscated JavaScript detected, commonly used to hide credential stealers")
	}
	if hosts := redirectHosts(html); len(hosts) > 0 {
		out = append(out, fmt.Sprintf("Redirects visitors to external host: %s", strings.Join(hosts, ", ")))
	}
	if matchesAny(hiddenIframePatterns, html) {
		out = append(out, "Hidden iframe detected, possible clickjacking or drive-by download")
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// redirectHosts returns the distinct hosts of absolute redirect targets.
func redirectHosts(html string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, p := range redirectPatterns {
		for _, m := range p.FindAllStringSubmatch(html, -1) {
			u, err := url.Parse(strings.TrimSpace(m[1]))
			if err != nil || u.Host == "" {
				continue
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				continue
			}
			h := strings.ToLower(u.Hostname())
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}
