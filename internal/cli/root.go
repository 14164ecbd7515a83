package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rohmanhakim/atlas-crawler/internal/archive"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/internal/atlasctx"
	"github.com/rohmanhakim/atlas-crawler/internal/build"
	"github.com/rohmanhakim/atlas-crawler/internal/checkpoint"
	"github.com/rohmanhakim/atlas-crawler/internal/config"
	"github.com/rohmanhakim/atlas-crawler/internal/events"
	"github.com/rohmanhakim/atlas-crawler/internal/extract"
	"github.com/rohmanhakim/atlas-crawler/internal/frontier"
	"github.com/rohmanhakim/atlas-crawler/internal/ratelimit"
	"github.com/rohmanhakim/atlas-crawler/internal/render"
	"github.com/rohmanhakim/atlas-crawler/internal/robots"
	"github.com/rohmanhakim/atlas-crawler/internal/robots/cache"
	"github.com/rohmanhakim/atlas-crawler/internal/scheduler"
	"github.com/rohmanhakim/atlas-crawler/internal/urlnorm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes per the CLI's external contract.
const (
	exitOK            = 0
	exitErrorBudget   = 2
	exitWriteFatal    = 4
	exitValidateFatal = 5
	exitUnknown       = 10
)

var (
	cfgFile           string
	seedURLs          []string
	outPath           string
	mode              string
	concurrency       int
	rps               float64
	maxPages          int
	maxDepth          int
	respectRobots     bool
	overrideRobots    string
	resumeFrom        string
	checkpointEvery   int
	errorBudget       int
	allowedHosts      []string
	allowedPathPrefix []string
	denyPatterns      []string
	userAgent         string
	validateAtlsPath  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "atlascrawl",
	Short: "A site-wide crawler that produces content-addressed Atlas archives.",
	Long: `atlascrawl crawls a documentation or content site end to end and
writes a single content-addressed .atls archive: normalized pages, link and
asset graphs, response blobs, and error/event logs, ready for offline replay
or retrieval-augmented indexing.`,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl from one or more seed URLs and write an .atls archive.",
	RunE:  runCrawl,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify an .atls archive's manifest integrity and dataset coverage.",
	RunE:  runValidate,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitUnknown)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(validateCmd)

	crawlCmd.Flags().StringArrayVar(&seedURLs, "seeds", nil, "one or more starting URLs (can be repeated)")
	crawlCmd.Flags().StringVar(&outPath, "out", "", "output archive path (e.g., site.atls)")
	crawlCmd.Flags().StringVar(&mode, "mode", "raw", "render mode: raw|prerender|full")
	crawlCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent render workers")
	crawlCmd.Flags().Float64Var(&rps, "rps", 0, "per-host requests per second")
	crawlCmd.Flags().IntVar(&maxPages, "maxPages", 0, "maximum number of pages to fetch (0 for unlimited)")
	crawlCmd.Flags().IntVar(&maxDepth, "maxDepth", 0, "maximum link depth from a seed URL")
	crawlCmd.Flags().BoolVar(&respectRobots, "respectRobots", true, "honor robots.txt disallow rules")
	crawlCmd.Flags().StringVar(&overrideRobots, "overrideRobots", "", "crawl despite robots.txt, recording this reason in the manifest")
	crawlCmd.Flags().StringVar(&resumeFrom, "resume", "", "staging directory of a previous crawl to resume from")
	crawlCmd.Flags().IntVar(&checkpointEvery, "checkpointEvery", 0, "pages between checkpoint saves")
	crawlCmd.Flags().IntVar(&errorBudget, "errorBudget", 0, "abort once this many errors accumulate")
	crawlCmd.Flags().StringArrayVar(&allowedHosts, "allowed-host", nil, "explicit hostname allowlist (defaults to seed hosts)")
	crawlCmd.Flags().StringArrayVar(&allowedPathPrefix, "allowed-path-prefix", nil, "restrict the crawl to paths under these prefixes")
	crawlCmd.Flags().StringArrayVar(&denyPatterns, "deny", nil, "glob or /regex/ patterns to exclude")
	crawlCmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent string sent with every request")

	validateCmd.Flags().StringVar(&validateAtlsPath, "atls", "", "path to the .atls archive to validate")
}

// parseSeedURLs converts a string slice of URLs to []url.URL.
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("--seeds is required: at least one seed URL must be provided")
	}
	urls := make([]url.URL, 0, len(urlStrings))
	for _, raw := range urlStrings {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing seed URL %q: %w", raw, err)
		}
		urls = append(urls, *parsed)
	}
	return urls, nil
}

// parseStringSliceToSet converts a string slice to a map[string]struct{} set.
func parseStringSliceToSet(values []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// buildAllowPatterns turns "/docs"-style prefixes into glob patterns that
// match the prefix itself and everything below it, since urlnorm.Filter's
// '/'-separated glob treats a bare prefix like "/docs" as an exact match only.
func buildAllowPatterns(prefixes []string) []string {
	patterns := make([]string, 0, len(prefixes)*2)
	for _, prefix := range prefixes {
		trimmed := strings.TrimSuffix(prefix, "/")
		if trimmed == "" {
			patterns = append(patterns, "/", "/**")
			continue
		}
		patterns = append(patterns, trimmed, trimmed+"/**")
	}
	return patterns
}

// buildConfig assembles a config.Config from a config file (if given) or
// from the parsed flag values, mirroring the teacher's With...-chaining
// InitConfigWithError but targeting the expanded flag surface.
func buildConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}

	seeds, err := parseSeedURLs(seedURLs)
	if err != nil {
		return config.Config{}, err
	}

	builder := config.WithDefault(seeds)
	if len(allowedHosts) > 0 {
		builder = builder.WithAllowedHosts(parseStringSliceToSet(allowedHosts))
	}
	if len(allowedPathPrefix) > 0 {
		builder = builder.WithAllowedPathPrefix(allowedPathPrefix)
	}
	if len(denyPatterns) > 0 {
		builder = builder.WithDenyPatterns(denyPatterns)
	}
	if mode != "" {
		builder = builder.WithRenderMode(atlas.RenderMode(mode))
	}
	if concurrency > 0 {
		builder = builder.WithConcurrency(concurrency)
	}
	if rps > 0 {
		builder = builder.WithPerHostRPS(rps)
	}
	if maxPages > 0 {
		builder = builder.WithMaxPages(maxPages)
	}
	if maxDepth > 0 {
		builder = builder.WithMaxDepth(maxDepth)
	}
	builder = builder.WithRespectRobots(respectRobots)
	if overrideRobots != "" {
		builder = builder.WithOverrideRobots(overrideRobots)
	}
	if checkpointEvery > 0 {
		builder = builder.WithCheckpointInterval(checkpointEvery)
	}
	if errorBudget > 0 {
		builder = builder.WithErrorBudget(errorBudget)
	}
	if userAgent != "" {
		builder = builder.WithUserAgent(userAgent)
	}
	if resumeFrom != "" {
		builder = builder.WithResumeFrom(resumeFrom)
	}

	return builder.Build()
}

func runCrawl(c *cobra.Command, _ []string) error {
	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitUnknown)
	}
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --out is required")
		os.Exit(exitUnknown)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	actx := atlasctx.New(ctx, log, atlasctx.Producer{
		Name:    "atlascrawl",
		Version: build.Version,
		Build:   build.BuildTime,
		GitHash: build.Commit,
	})

	crawlID := uuid.NewString()
	stagingDir := cfg.ResumeFrom()
	if stagingDir == "" {
		stagingDir = outPath + ".staging"
	}

	var loaded *checkpoint.Loaded
	var resumePointers map[string]atlas.PartPointer
	if cfg.ResumeFrom() != "" {
		var loadErr error
		loaded, loadErr = checkpoint.New(cfg.ResumeFrom()).Load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("failed to load checkpoint")
			os.Exit(exitUnknown)
		}
		if loaded != nil {
			resumePointers = loaded.Checkpoint.LastPartPointers
		}
	}

	aw, err := archive.New(cfg, crawlID, stagingDir, strings.Join(os.Args, " "), resumePointers)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize archive")
		os.Exit(exitWriteFatal)
	}
	aw.SetRobotsPolicy(cfg.OverrideRobots(), cfg.OverrideReason())

	filter := urlnorm.NewFilter(buildAllowPatterns(cfg.AllowedPathPrefix()), cfg.DenyPatterns())
	bucket := ratelimit.New(cfg.PerHostRPS(), int(cfg.Burst()))
	robotChecker := robots.NewChecker(cfg.UserAgent(), cfg.RespectRobots(), cfg.OverrideRobots(), cfg.OverrideReason(), cache.NewMemoryCache())

	renderPool := render.New(actx.Ctx, render.Options{
		Mode:               cfg.RenderMode(),
		Concurrency:        cfg.Concurrency(),
		WorkerRecycleEvery: cfg.WorkerRecycleEvery(),
		MaxRequestsPerPage: cfg.MaxRequestsPerPage(),
		MaxBytesPerPage:    cfg.MaxBytesPerPage(),
		NavTimeout:         cfg.NavTimeout(),
		UserAgent:          cfg.UserAgent(),
		RetryParam:         render.DefaultRetryParam(cfg.RandomSeed()),
	})
	defer renderPool.Close()

	sink := events.NewZerologSink(log)

	sched := scheduler.New(
		actx,
		cfg,
		crawlID,
		frontier.New(cfg.MaxDepth()),
		filter,
		bucket,
		robotChecker,
		renderPool,
		aw,
		checkpoint.New(stagingDir),
		sink,
		extract.DefaultPipeline(),
	)

	if loaded != nil {
		sched.Resume(loaded)
	}

	seeds, err := parseSeedURLs(seedURLs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitUnknown)
	}

	result := sched.Run(seeds)

	finalPath, err := aw.Finalize(outPath, result.Reason, result.GracefulShutdown)
	if err != nil {
		log.Error().Err(err).Msg("failed to finalize archive")
		os.Exit(exitWriteFatal)
	}

	log.Info().
		Str("archive", finalPath).
		Str("reason", string(result.Reason)).
		Int("pagesWritten", result.PagesWritten).
		Int("errorCount", result.ErrorCount).
		Dur("duration", result.Duration).
		Msg("crawl finished")

	c.SilenceUsage = true
	if result.Reason == atlas.CompletionErrorBudget {
		os.Exit(exitErrorBudget)
	}
	os.Exit(exitOK)
	return nil
}

func runValidate(c *cobra.Command, _ []string) error {
	if validateAtlsPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --atls is required")
		os.Exit(exitValidateFatal)
	}

	report, err := validateArchive(validateAtlsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validation failed: %s\n", err)
		os.Exit(exitValidateFatal)
	}

	c.SilenceUsage = true
	fmt.Printf("atlasVersion=%s formatVersion=%s datasets=%d archiveSha256=%s\n",
		report.Manifest.AtlasVersion, report.Manifest.FormatVersion, len(report.Manifest.Datasets), report.Manifest.Integrity.ArchiveSha256)
	if len(report.Mismatches) > 0 {
		for _, m := range report.Mismatches {
			fmt.Fprintf(os.Stderr, "mismatch: %s\n", m)
		}
		os.Exit(exitValidateFatal)
	}
	os.Exit(exitOK)
	return nil
}

// ResetFlags restores every flag variable to its default value (the zero
// value, except mode "raw" and respectRobots true), so repeated
// Execute() calls in tests don't see stale state from a previous test.
func ResetFlags() {
	cfgFile = ""
	seedURLs = nil
	outPath = ""
	mode = "raw"
	concurrency = 0
	rps = 0
	maxPages = 0
	maxDepth = 0
	respectRobots = true
	overrideRobots = ""
	resumeFrom = ""
	checkpointEvery = 0
	errorBudget = 0
	allowedHosts = nil
	allowedPathPrefix = nil
	denyPatterns = nil
	userAgent = ""
	validateAtlsPath = ""
}

// Test helper setters, letting tests exercise buildConfig without going
// through cobra's flag parser — the same pattern as the teacher's
// SetMaxDepthForTest family.
func SetSeedURLsForTest(urls []string)      { seedURLs = urls }
func SetOutPathForTest(path string)         { outPath = path }
func SetModeForTest(m string)               { mode = m }
func SetConcurrencyForTest(n int)           { concurrency = n }
func SetMaxPagesForTest(n int)              { maxPages = n }
func SetMaxDepthForTest(n int)              { maxDepth = n }
func SetRespectRobotsForTest(respect bool)  { respectRobots = respect }
func SetAllowedPathPrefixForTest(p []string) { allowedPathPrefix = p }
func SetConfigFileForTest(path string)      { cfgFile = path }

// BuildConfigForTest exposes buildConfig to the external test package.
func BuildConfigForTest() (config.Config, error) { return buildConfig() }
