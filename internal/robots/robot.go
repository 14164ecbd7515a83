package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/atlas-crawler/internal/robots/cache"
)

// negativeCacheTTL bounds how long an "allow all" ruleSet produced by a
// fetch failure is trusted before the next admission retries the fetch.
const negativeCacheTTL = 5 * time.Minute

type cachedRuleSet struct {
	rules     ruleSet
	expiresAt time.Time // zero means no expiry
}

func (c cachedRuleSet) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && now.After(c.expiresAt)
}

// Checker is the per-crawl robots.txt gate (C3): it fetches and memoizes
// rules per origin and evaluates shouldFetch for individual URLs.
type Checker struct {
	fetcher        *RobotsFetcher
	userAgent      string
	respectRobots  bool
	overrideUsed   bool
	overrideReason string

	mu    sync.Mutex
	rules map[string]cachedRuleSet
}

// NewChecker builds a Checker. When respectRobots is false, or override is
// true, ShouldFetch always allows and the override reason is surfaced via
// Overridden for the archive manifest.
func NewChecker(userAgent string, respectRobots, override bool, overrideReason string, c cache.Cache) *Checker {
	return &Checker{
		fetcher:        NewRobotsFetcher(userAgent, c),
		userAgent:      userAgent,
		respectRobots:  respectRobots,
		overrideUsed:   override,
		overrideReason: overrideReason,
		rules:          make(map[string]cachedRuleSet),
	}
}

// Overridden reports whether robots enforcement is bypassed, and why.
func (c *Checker) Overridden() (bool, string) {
	if !c.respectRobots || c.overrideUsed {
		return true, c.overrideReason
	}
	return false, ""
}

// ShouldFetch implements the shouldFetch(config, url) contract: unconditional
// allow when robots enforcement is off or overridden; otherwise fetches (or
// reuses memoized) rules for scheme+host and evaluates path against them.
func (c *Checker) ShouldFetch(ctx context.Context, scheme, host, path string) Decision {
	if bypass, _ := c.Overridden(); bypass {
		return Decision{Allowed: true, Reason: AllowedByRobots}
	}

	rs := c.rulesFor(ctx, scheme, host)
	return rs.ShouldFetch(path)
}

// Decide is a url.URL-oriented convenience wrapper over ShouldFetch. Fetch
// failures never surface as an error here — per the shouldFetch contract
// they resolve to an allow-all decision with a short negative-cache TTL.
func (c *Checker) Decide(ctx context.Context, u url.URL) (Decision, error) {
	d := c.ShouldFetch(ctx, u.Scheme, u.Host, u.Path)
	d.Url = u
	return d, nil
}

func (c *Checker) rulesFor(ctx context.Context, scheme, host string) ruleSet {
	now := time.Now()
	key := scheme + "://" + host

	c.mu.Lock()
	if cached, ok := c.rules[key]; ok && !cached.expired(now) {
		c.mu.Unlock()
		return cached.rules
	}
	c.mu.Unlock()

	result, err := c.fetcher.Fetch(ctx, scheme, host)
	if err != nil {
		allowAll := ruleSet{host: host, userAgent: c.userAgent, fetchedAt: now, hasGroups: false}
		c.mu.Lock()
		c.rules[key] = cachedRuleSet{rules: allowAll, expiresAt: now.Add(negativeCacheTTL)}
		c.mu.Unlock()
		return allowAll
	}

	rs := MapResponseToRuleSet(result.Response, c.userAgent, result.FetchedAt)
	c.mu.Lock()
	c.rules[key] = cachedRuleSet{rules: rs}
	c.mu.Unlock()
	return rs
}
