package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// Config is the crawl-wide configuration value, built via WithDefault(...)
// .With*(...).Build() method chaining or loaded from a JSON file with
// WithConfigFile.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	seedURLs          []url.URL
	allowedHosts      map[string]struct{}
	allowedPathPrefix []string
	denyPatterns      []string
	queryPolicy       string // keep|strip|whitelist

	//===============
	// Limits
	//===============
	maxDepth    int
	maxPages    int
	errorBudget int

	//===============
	// Render
	//===============
	renderMode         atlas.RenderMode
	concurrency        int
	workerRecycleEvery int
	maxRequestsPerPage int
	maxBytesPerPage    int64
	navTimeout         time.Duration

	//===============
	// Politeness
	//===============
	perHostRPS float64
	burst      float64
	respectRobots bool
	overrideRobots bool
	overrideReason string

	//===============
	// Retry / backoff
	//===============
	baseDelay              time.Duration
	jitter                 time.Duration
	randomSeed             int64
	maxAttempt             int
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration

	//===============
	// Fetch
	//===============
	timeout   time.Duration
	userAgent string

	//===============
	// Output / checkpoint
	//===============
	outputDir              string
	dryRun                 bool
	checkpointInterval     int
	checkpointEverySeconds int
	resumeFrom             string

	//===============
	// Archive capabilities
	//===============
	accessibilityEnabled bool
	seoEnhanced           bool
	blobLayout            string // individual|packed
	maxPartBytes          int64
}

type configDTO struct {
	SeedURLs               []url.URL           `json:"seedUrls"`
	AllowedHosts           map[string]struct{} `json:"allowedHosts,omitempty"`
	AllowedPathPrefix      []string            `json:"allowedPathPrefix,omitempty"`
	DenyPatterns           []string            `json:"denyPatterns,omitempty"`
	QueryPolicy            string              `json:"queryPolicy,omitempty"`
	MaxDepth               int                 `json:"maxDepth,omitempty"`
	MaxPages               int                 `json:"maxPages,omitempty"`
	ErrorBudget            int                 `json:"errorBudget,omitempty"`
	RenderMode             string              `json:"renderMode,omitempty"`
	Concurrency            int                 `json:"concurrency,omitempty"`
	WorkerRecycleEvery     int                 `json:"workerRecycleEvery,omitempty"`
	MaxRequestsPerPage     int                 `json:"maxRequestsPerPage,omitempty"`
	MaxBytesPerPage        int64               `json:"maxBytesPerPage,omitempty"`
	NavTimeout             time.Duration       `json:"navTimeout,omitempty"`
	PerHostRPS             float64             `json:"perHostRps,omitempty"`
	Burst                  float64             `json:"burst,omitempty"`
	RespectRobots          *bool               `json:"respectRobots,omitempty"`
	OverrideRobots         bool                `json:"overrideRobots,omitempty"`
	OverrideReason         string              `json:"overrideReason,omitempty"`
	BaseDelay              time.Duration       `json:"baseDelay,omitempty"`
	Jitter                 time.Duration       `json:"jitter,omitempty"`
	RandomSeed             int64               `json:"randomSeed,omitempty"`
	MaxAttempt             int                 `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration       `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64             `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration       `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration       `json:"timeout,omitempty"`
	UserAgent              string              `json:"userAgent,omitempty"`
	OutputDir              string              `json:"outputDir,omitempty"`
	DryRun                 bool                `json:"dryRun,omitempty"`
	CheckpointInterval     int                 `json:"checkpointInterval,omitempty"`
	CheckpointEverySeconds int                 `json:"checkpointEverySeconds,omitempty"`
	ResumeFrom             string              `json:"resumeFrom,omitempty"`
	AccessibilityEnabled   bool                `json:"accessibilityEnabled,omitempty"`
	SEOEnhanced            bool                `json:"seoEnhanced,omitempty"`
	BlobLayout             string              `json:"blobLayout,omitempty"`
	MaxPartBytes           int64               `json:"maxPartBytes,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	if len(dto.AllowedHosts) > 0 {
		cfg.allowedHosts = dto.AllowedHosts
	}
	if dto.AllowedPathPrefix != nil {
		cfg.allowedPathPrefix = dto.AllowedPathPrefix
	}
	if dto.DenyPatterns != nil {
		cfg.denyPatterns = dto.DenyPatterns
	}
	if dto.QueryPolicy != "" {
		cfg.queryPolicy = dto.QueryPolicy
	}
	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.ErrorBudget != 0 {
		cfg.errorBudget = dto.ErrorBudget
	}
	if dto.RenderMode != "" {
		cfg.renderMode = atlas.RenderMode(dto.RenderMode)
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.WorkerRecycleEvery != 0 {
		cfg.workerRecycleEvery = dto.WorkerRecycleEvery
	}
	if dto.MaxRequestsPerPage != 0 {
		cfg.maxRequestsPerPage = dto.MaxRequestsPerPage
	}
	if dto.MaxBytesPerPage != 0 {
		cfg.maxBytesPerPage = dto.MaxBytesPerPage
	}
	if dto.NavTimeout != 0 {
		cfg.navTimeout = dto.NavTimeout
	}
	if dto.PerHostRPS != 0 {
		cfg.perHostRPS = dto.PerHostRPS
	}
	if dto.Burst != 0 {
		cfg.burst = dto.Burst
	}
	if dto.RespectRobots != nil {
		cfg.respectRobots = *dto.RespectRobots
	}
	cfg.overrideRobots = dto.OverrideRobots
	if dto.OverrideReason != "" {
		cfg.overrideReason = dto.OverrideReason
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.OutputDir != "" {
		cfg.outputDir = dto.OutputDir
	}
	cfg.dryRun = dto.DryRun
	if dto.CheckpointInterval != 0 {
		cfg.checkpointInterval = dto.CheckpointInterval
	}
	if dto.CheckpointEverySeconds != 0 {
		cfg.checkpointEverySeconds = dto.CheckpointEverySeconds
	}
	if dto.ResumeFrom != "" {
		cfg.resumeFrom = dto.ResumeFrom
	}
	cfg.accessibilityEnabled = dto.AccessibilityEnabled
	cfg.seoEnhanced = dto.SEOEnhanced
	if dto.BlobLayout != "" {
		cfg.blobLayout = dto.BlobLayout
	}
	if dto.MaxPartBytes != 0 {
		cfg.maxPartBytes = dto.MaxPartBytes
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	if err := json.Unmarshal(configContent, &cfgDTO); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed URLs and default
// values for everything else. seedUrls is mandatory; Build() errors if empty.
func WithDefault(seedUrls []url.URL) *Config {
	return &Config{
		seedURLs:               seedUrls,
		allowedHosts:           map[string]struct{}{},
		allowedPathPrefix:      []string{"/"},
		queryPolicy:            "keep",
		maxDepth:               3,
		maxPages:               0,
		errorBudget:            100,
		renderMode:             atlas.RenderModeRaw,
		concurrency:            8,
		workerRecycleEvery:     50,
		maxRequestsPerPage:     1000,
		maxBytesPerPage:        50 * 1024 * 1024,
		navTimeout:             30 * time.Second,
		perHostRPS:             1,
		burst:                  1,
		respectRobots:          true,
		baseDelay:              time.Second,
		jitter:                 500 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             3,
		backoffInitialDuration: time.Second,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     5 * time.Second,
		timeout:                10 * time.Second,
		userAgent:              "atlas-crawler/1.0",
		outputDir:              "output",
		dryRun:                 false,
		checkpointInterval:     500,
		checkpointEverySeconds: 0,
		accessibilityEnabled:   false,
		seoEnhanced:            false,
		blobLayout:             "individual",
		maxPartBytes:           150 * 1024 * 1024,
	}
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithAllowedHosts(hosts map[string]struct{}) *Config {
	c.allowedHosts = hosts
	return c
}

func (c *Config) WithAllowedPathPrefix(prefixes []string) *Config {
	c.allowedPathPrefix = prefixes
	return c
}

func (c *Config) WithDenyPatterns(patterns []string) *Config {
	c.denyPatterns = patterns
	return c
}

func (c *Config) WithQueryPolicy(policy string) *Config {
	c.queryPolicy = policy
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithErrorBudget(budget int) *Config {
	c.errorBudget = budget
	return c
}

func (c *Config) WithRenderMode(mode atlas.RenderMode) *Config {
	c.renderMode = mode
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithWorkerRecycleEvery(n int) *Config {
	c.workerRecycleEvery = n
	return c
}

func (c *Config) WithMaxRequestsPerPage(n int) *Config {
	c.maxRequestsPerPage = n
	return c
}

func (c *Config) WithMaxBytesPerPage(n int64) *Config {
	c.maxBytesPerPage = n
	return c
}

func (c *Config) WithNavTimeout(d time.Duration) *Config {
	c.navTimeout = d
	return c
}

func (c *Config) WithPerHostRPS(rps float64) *Config {
	c.perHostRPS = rps
	return c
}

func (c *Config) WithBurst(burst float64) *Config {
	c.burst = burst
	return c
}

func (c *Config) WithRespectRobots(respect bool) *Config {
	c.respectRobots = respect
	return c
}

func (c *Config) WithOverrideRobots(reason string) *Config {
	c.overrideRobots = true
	c.overrideReason = reason
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithOutputDir(outputDir string) *Config {
	c.outputDir = outputDir
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

func (c *Config) WithCheckpointInterval(n int) *Config {
	c.checkpointInterval = n
	return c
}

func (c *Config) WithCheckpointEverySeconds(n int) *Config {
	c.checkpointEverySeconds = n
	return c
}

func (c *Config) WithResumeFrom(path string) *Config {
	c.resumeFrom = path
	return c
}

func (c *Config) WithAccessibilityEnabled(enabled bool) *Config {
	c.accessibilityEnabled = enabled
	return c
}

func (c *Config) WithSEOEnhanced(enabled bool) *Config {
	c.seoEnhanced = enabled
	return c
}

func (c *Config) WithBlobLayout(layout string) *Config {
	c.blobLayout = layout
	return c
}

func (c *Config) WithMaxPartBytes(n int64) *Config {
	c.maxPartBytes = n
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	if len(c.allowedHosts) == 0 {
		c.allowedHosts = make(map[string]struct{})
		for _, u := range c.seedURLs {
			if u.Host != "" {
				c.allowedHosts[u.Host] = struct{}{}
			}
		}
	}

	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) AllowedHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for k, v := range c.allowedHosts {
		hosts[k] = v
	}
	return hosts
}

func (c Config) AllowedPathPrefix() []string {
	prefixes := make([]string, len(c.allowedPathPrefix))
	copy(prefixes, c.allowedPathPrefix)
	return prefixes
}

func (c Config) DenyPatterns() []string {
	patterns := make([]string, len(c.denyPatterns))
	copy(patterns, c.denyPatterns)
	return patterns
}

func (c Config) QueryPolicy() string                 { return c.queryPolicy }
func (c Config) MaxDepth() int                        { return c.maxDepth }
func (c Config) MaxPages() int                        { return c.maxPages }
func (c Config) ErrorBudget() int                     { return c.errorBudget }
func (c Config) RenderMode() atlas.RenderMode         { return c.renderMode }
func (c Config) Concurrency() int                     { return c.concurrency }
func (c Config) WorkerRecycleEvery() int              { return c.workerRecycleEvery }
func (c Config) MaxRequestsPerPage() int              { return c.maxRequestsPerPage }
func (c Config) MaxBytesPerPage() int64               { return c.maxBytesPerPage }
func (c Config) NavTimeout() time.Duration            { return c.navTimeout }
func (c Config) PerHostRPS() float64                  { return c.perHostRPS }
func (c Config) Burst() float64                       { return c.burst }
func (c Config) RespectRobots() bool                  { return c.respectRobots }
func (c Config) OverrideRobots() bool                 { return c.overrideRobots }
func (c Config) OverrideReason() string               { return c.overrideReason }
func (c Config) BaseDelay() time.Duration             { return c.baseDelay }
func (c Config) Jitter() time.Duration                { return c.jitter }
func (c Config) RandomSeed() int64                    { return c.randomSeed }
func (c Config) Timeout() time.Duration               { return c.timeout }
func (c Config) UserAgent() string                    { return c.userAgent }
func (c Config) OutputDir() string                    { return c.outputDir }
func (c Config) DryRun() bool                         { return c.dryRun }
func (c Config) MaxAttempt() int                      { return c.maxAttempt }
func (c Config) BackoffInitialDuration() time.Duration { return c.backoffInitialDuration }
func (c Config) BackoffMultiplier() float64           { return c.backoffMultiplier }
func (c Config) BackoffMaxDuration() time.Duration    { return c.backoffMaxDuration }
func (c Config) CheckpointInterval() int              { return c.checkpointInterval }
func (c Config) CheckpointEverySeconds() int          { return c.checkpointEverySeconds }
func (c Config) ResumeFrom() string                   { return c.resumeFrom }
func (c Config) AccessibilityEnabled() bool           { return c.accessibilityEnabled }
func (c Config) SEOEnhanced() bool                    { return c.seoEnhanced }
func (c Config) BlobLayout() string                   { return c.blobLayout }
func (c Config) MaxPartBytes() int64                  { return c.maxPartBytes }
