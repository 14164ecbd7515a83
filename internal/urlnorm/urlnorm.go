// Package urlnorm implements URL canonicalization, the urlKey dedup digest,
// same-origin comparison, and the allow/deny glob+regex scope filter (C1).
package urlnorm

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
	"github.com/gobwas/glob"
)

// QueryPolicy controls how query strings survive normalization.
type QueryPolicy string

const (
	QueryKeep      QueryPolicy = "keep"
	QueryStrip     QueryPolicy = "strip"
	QueryWhitelist QueryPolicy = "whitelist"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize canonicalizes raw into a NormalizedURL: lowercased scheme/host,
// default port stripped, fragment removed, optional trailing-slash removal,
// and the given query policy applied. Returns ErrInvalidURL on parse failure
// or a non-http(s) scheme.
func Normalize(raw string, policy QueryPolicy, queryWhitelist []string, trimTrailingSlash bool) (atlas.NormalizedURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return atlas.NormalizedURL{}, fmt.Errorf("%w: %s", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return atlas.NormalizedURL{}, fmt.Errorf("%w: missing scheme or host", ErrInvalidURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return atlas.NormalizedURL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, scheme)
	}

	host := strings.ToLower(u.Host)
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		port := host[idx+1:]
		if defaultPorts[scheme] == port {
			host = host[:idx]
		}
	}

	u.Scheme = scheme
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	switch policy {
	case QueryStrip:
		u.RawQuery = ""
	case QueryWhitelist:
		u.RawQuery = filterQuery(u.RawQuery, queryWhitelist)
	case QueryKeep, "":
		// leave as-is
	}

	if trimTrailingSlash && u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	key, err := urlKey(u.String())
	if err != nil {
		return atlas.NormalizedURL{}, err
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}

	return atlas.NormalizedURL{
		URL:    u,
		Origin: scheme + "://" + host,
		Host:   host,
		Key:    key,
	}, nil
}

func filterQuery(rawQuery string, whitelist []string) string {
	if rawQuery == "" {
		return ""
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, k := range whitelist {
		allowed[k] = struct{}{}
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	kept := url.Values{}
	for k, vs := range values {
		if _, ok := allowed[k]; ok {
			for _, v := range vs {
				kept.Add(k, v)
			}
		}
	}
	return kept.Encode()
}

// urlKey returns the SHA-1 hex digest of the normalized URL string — the
// dedup key for frontier/visited indices.
func urlKey(normalized string) (string, error) {
	return hashutil.HashBytes([]byte(normalized), hashutil.HashAlgoSHA1)
}

// SameOrigin reports whether a and b share scheme, host and effective port.
func SameOrigin(a, b atlas.NormalizedURL) bool {
	return a.Origin == b.Origin
}

// Filter evaluates allow/deny glob+regex patterns against a URL.
type Filter struct {
	allow []compiledPattern
	deny  []compiledPattern
}

type compiledPattern struct {
	raw   string
	glob  glob.Glob
	regex *regexp.Regexp
}

// NewFilter compiles allow and deny pattern lists. Each pattern wrapped in
// /…/, optionally followed by regex flag letters (i, m, s, U), is compiled
// as a regex; otherwise as a glob supporting *, **, ?, and
// char classes. An invalid regex falls back to literal glob matching rather
// than erroring.
func NewFilter(allowPatterns, denyPatterns []string) *Filter {
	return &Filter{
		allow: compilePatterns(allowPatterns),
		deny:  compilePatterns(denyPatterns),
	}
}

func compilePatterns(patterns []string) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, compilePattern(p))
	}
	return compiled
}

func compilePattern(raw string) compiledPattern {
	if len(raw) >= 2 && strings.HasPrefix(raw, "/") {
		if end := strings.LastIndex(raw, "/"); end > 0 && strings.Trim(raw[end+1:], "imsU") == "" {
			body := raw[1:end]
			if flags := raw[end+1:]; flags != "" {
				body = "(?" + flags + ")" + body
			}
			if re, err := regexp.Compile(body); err == nil {
				return compiledPattern{raw: raw, regex: re}
			}
			return compiledPattern{raw: raw, glob: glob.MustCompile(glob.QuoteMeta(raw), '/')}
		}
	}
	g, err := glob.Compile(raw, '/')
	if err != nil {
		// fall back to a literal glob (escape nothing special works since
		// glob.Compile on a plain string degrades to exact match already;
		// this branch only guards a pathological pattern).
		g = glob.MustCompile(glob.QuoteMeta(raw), '/')
	}
	return compiledPattern{raw: raw, glob: g}
}

func (p compiledPattern) match(s string) bool {
	if p.regex != nil {
		return p.regex.MatchString(s)
	}
	return p.glob.Match(s)
}

// ShouldAllow evaluates the deny-list then the allow-list against target
// (the URL path at the scheduler's call sites). Deny matches short-circuit.
func (f *Filter) ShouldAllow(target string) (bool, string) {
	for _, p := range f.deny {
		if p.match(target) {
			return false, "matched deny pattern"
		}
	}
	if len(f.allow) == 0 {
		return true, ""
	}
	for _, p := range f.allow {
		if p.match(target) {
			return true, ""
		}
	}
	return false, "not in allow list"
}
