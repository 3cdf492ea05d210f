// Package explain produces human-readable reasons for model verdicts.
//
// The reasons are heuristics computed from the input itself. They describe
// features a human analyst would look at and do not claim to reproduce what
// a model attended to.
package explain

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudflare/ahocorasick"
	"golang.org/x/net/publicsuffix"

	"github.com/nao1215/phishguard/internal/model"
)

const (
	longDomainLength = 25
	maxSlashes       = 4
	sparseDOMNodes   = 5
	largeDOMNodes    = 500
	manyForms        = 2
)

// freeTLDs are suffixes handed out at no cost and heavily abused.
var freeTLDs = map[string]bool{"tk": true, "ml": true, "ga": true, "cf": true, "gq": true}

// trustedTLDs are the suffixes reported as recognized for benign URLs.
var trustedTLDs = map[string]bool{"com": true, "org": true, "edu": true, "gov": true}

// suspiciousKeywords appear in credential-harvesting URLs.
var suspiciousKeywords = []string{
	"login", "verify", "secure", "account", "update",
	"signin", "banking", "confirm", "wallet", "password",
}

var keywordMatcher = ahocorasick.NewStringMatcher(suspiciousKeywords)

// URL explains a URL verdict.
func URL(rawURL string, label model.Label) []string {
	if label == model.LabelUnknown {
		return nil
	}

	host := hostOf(rawURL)
	if host == "" {
		return []string{"Domain structure: checked for typosquatting and suspicious patterns"}
	}
	suffix, _ := publicsuffix.PublicSuffix(host)

	if label != model.LabelPhishing {
		out := []string{
			fmt.Sprintf("Domain '%s' appears legitimate", host),
			"URL structure matches known legitimate patterns",
		}
		if trustedTLDs[suffix] {
			out = append(out, "Uses recognized legitimate TLD")
		}
		return out
	}

	out := []string{
		fmt.Sprintf("High-risk domain pattern detected: '%s'", host),
		"Domain may contain typosquatting or suspicious keywords",
	}
	if freeTLDs[suffix] {
		out = append(out, "Uses free TLD (.tk/.ml/.ga/.cf/.gq) commonly abused by phishers")
	}
	if strings.Contains(host, "-") {
		out = append(out, "Contains hyphens, potential domain mimicry")
	}
	if len(host) > longDomainLength {
		out = append(out, "Unusually long domain name, a common phishing tactic")
	}
	if strings.Count(rawURL, "/") > maxSlashes {
		out = append(out, "Excessive path depth, may contain obfuscation")
	}
	if kw := keywords(rawURL); len(kw) > 0 {
		out = append(out, fmt.Sprintf("Contains suspicious keywords: %s", strings.Join(kw, ", ")))
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		out = append(out, "Uses a raw IP address instead of a domain name")
	}
	return out
}

// RegistrableDomain returns the eTLD+1 of rawURL, falling back to the host.
func RegistrableDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// keywords returns the distinct suspicious keywords found in s, sorted.
func keywords(s string) []string {
	hits := keywordMatcher.MatchThreadSafe([]byte(strings.ToLower(s)))
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, i := range hits {
		if !seen[i] {
			seen[i] = true
			out = append(out, suspiciousKeywords[i])
		}
	}
	sort.Strings(out)
	return out
}

// HTML explains an HTML verdict.
func HTML(html string, label model.Label) []string {
	if label == model.LabelUnknown {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return []string{"Form analysis: checked for input fields and suspicious targets"}
	}

	if label != model.LabelPhishing {
		out := []string{
			"HTML structure appears legitimate",
			"No suspicious form patterns or scripts detected",
		}
		if doc.Find("meta").Length() > 0 {
			out = append(out, "Contains proper meta tags and structured content")
		}
		return out
	}

	out := []string{"Suspicious HTML patterns detected"}
	forms := doc.Find("form")
	if n := forms.Length(); n > manyForms {
		out = append(out, fmt.Sprintf("Multiple forms detected (%d), possible data harvesting", n))
	}
	if countInputs(doc, "password") > 0 && looksLikeLogin(doc) {
		out = append(out, "Contains password field and login form, credential harvesting risk")
	}
	if doc.Find("script").Length() > 0 {
		out = append(out, "Contains JavaScript that may inject harmful code")
	}
	if doc.Find("iframe, object, embed").Length() > 0 {
		out = append(out, "Embedded external content (iframe/object), potential malware vector")
	}
	if n := countInputs(doc, "hidden"); n > 0 {
		out = append(out, fmt.Sprintf("Hidden form fields detected (%d), may exfiltrate data", n))
	}
	if hosts := externalActions(forms); len(hosts) > 0 {
		out = append(out, fmt.Sprintf("Form submits to external host: %s", strings.Join(hosts, ", ")))
	}
	return append(out, evasion(html)...)
}

func countInputs(doc *goquery.Document, typ string) int {
	n := 0
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); strings.EqualFold(strings.TrimSpace(t), typ) {
			n++
		}
	})
	return n
}

func looksLikeLogin(doc *goquery.Document) bool {
	if doc.Find("form").Length() == 0 {
		return false
	}
	text := strings.ToLower(doc.Text())
	for _, w := range []string{"login", "log in", "sign in", "signin"} {
		if strings.Contains(text, w) {
			return true
		}
	}
	found := false
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		action, _ := s.Attr("action")
		id, _ := s.Attr("id")
		probe := strings.ToLower(action + " " + id)
		found = strings.Contains(probe, "login") || strings.Contains(probe, "signin")
		return !found
	})
	return found
}

// externalActions returns the distinct hosts of absolute form actions.
func externalActions(forms *goquery.Selection) []string {
	seen := make(map[string]bool)
	var hosts []string
	forms.Each(func(_ int, s *goquery.Selection) {
		action, ok := s.Attr("action")
		if !ok {
			return
		}
		u, err := url.Parse(strings.TrimSpace(action))
		if err != nil || u.Host == "" {
			return
		}
		h := strings.ToLower(u.Hostname())
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	})
	sort.Strings(hosts)
	return hosts
}

// DOM explains a DOM verdict.
func DOM(rec *model.DOMRecord, label model.Label) []string {
	if label == model.LabelUnknown {
		return nil
	}
	var nodes, edges int
	if rec != nil {
		nodes, edges = len(rec.Nodes), len(rec.Edges)
	}

	if label != model.LabelPhishing {
		return []string{
			"Normal DOM tree structure",
			fmt.Sprintf("DOM contains %d elements with %d connections", nodes, edges),
		}
	}

	out := []string{"Unusual DOM tree structure detected"}
	switch {
	case nodes < sparseDOMNodes:
		out = append(out, "Very sparse DOM, may be hidden content or obfuscated structure")
	case nodes > largeDOMNodes:
		out = append(out, fmt.Sprintf("Large DOM tree (%d nodes), potential for malicious elements", nodes))
	}
	return out
}
