// Package atlas holds the crawl-wide record and entity types described by
// the archive's data model: frontier entries, page/edge/asset/response
// records, accessibility summaries, error and event records, checkpoints,
// and the manifest. These types are shared by internal/frontier,
// internal/render, internal/extract, internal/dataset, internal/archive and
// internal/checkpoint so that none of them needs to import another's
// package just to pass a record through.
package atlas

import (
	"net/url"
	"time"
)

// RenderMode selects how a page is fetched: raw HTTP only, JS-executed
// prerender, or full (prerender plus screenshots/favicon/console/styles).
type RenderMode string

const (
	RenderModeRaw       RenderMode = "raw"
	RenderModePrerender RenderMode = "prerender"
	RenderModeFull      RenderMode = "full"
)

// NavEndReason records why a navigation/render stopped.
type NavEndReason string

const (
	NavEndLoad             NavEndReason = "load"
	NavEndDOMContentLoaded NavEndReason = "domcontentloaded"
	NavEndNetworkIdle      NavEndReason = "networkidle"
	NavEndTimeout          NavEndReason = "timeout"
	NavEndError            NavEndReason = "error"
	NavEndChallenge        NavEndReason = "challenge"
)

// LinkLocation classifies where on the page a link was discovered.
type LinkLocation string

const (
	LocationUnknown LinkLocation = "unknown"
	LocationNav     LinkLocation = "nav"
	LocationHeader  LinkLocation = "header"
	LocationMain    LinkLocation = "main"
	LocationFooter  LinkLocation = "footer"
	LocationAside   LinkLocation = "aside"
	LocationOther   LinkLocation = "other"
)

// LinkType is a semantic classification of an edge's purpose.
type LinkType string

const (
	LinkTypeNavigation LinkType = "navigation"
	LinkTypeContent    LinkType = "content"
	LinkTypeFooter     LinkType = "footer"
	LinkTypeBreadcrumb LinkType = "breadcrumb"
	LinkTypePagination LinkType = "pagination"
	LinkTypeSkip       LinkType = "skip"
	LinkTypeDownload   LinkType = "download"
	LinkTypeSocial     LinkType = "social"
	LinkTypeTag        LinkType = "tag"
	LinkTypeAuthor     LinkType = "author"
	LinkTypeRelated    LinkType = "related"
	LinkTypeAction     LinkType = "action"
	LinkTypeExternal   LinkType = "external"
	LinkTypeOther      LinkType = "other"
)

// AssetType classifies a discovered sub-resource reference.
type AssetType string

const (
	AssetImg    AssetType = "img"
	AssetVideo  AssetType = "video"
	AssetAudio  AssetType = "audio"
	AssetScript AssetType = "script"
	AssetStyle  AssetType = "style"
	AssetFont   AssetType = "font"
	AssetOther  AssetType = "other"
)

// ErrorPhase identifies which stage of the pipeline produced an ErrorRecord.
type ErrorPhase string

const (
	PhaseFetch    ErrorPhase = "fetch"
	PhaseRender   ErrorPhase = "render"
	PhaseExtract  ErrorPhase = "extract"
	PhaseWrite    ErrorPhase = "write"
	PhaseRobots   ErrorPhase = "robots"
	PhaseValidate ErrorPhase = "validate"
)

// CompletionReason is recorded on the AtlasSummary when the scheduler stops.
type CompletionReason string

const (
	CompletionFinished     CompletionReason = "finished"
	CompletionCapped       CompletionReason = "capped"
	CompletionErrorBudget  CompletionReason = "error_budget"
	CompletionManual       CompletionReason = "manual"
)

// FrontierEntry is one unit of crawl work: a URL discovered at a given
// depth from a (possibly nil) parent URL.
type FrontierEntry struct {
	URL            string
	Depth          int
	DiscoveredFrom string // empty for seeds
	EnqueueTime    time.Time
}

// RedirectHop is one entry in a redirect chain.
type RedirectHop struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
}

// OpenGraph and Twitter maps are loosely typed key/value facts lifted from
// meta tags; extractors populate what they find.
type PageRecord struct {
	PageID             string            `json:"pageId"`
	URL                string            `json:"url"`
	FinalURL           string            `json:"finalUrl"`
	NormalizedURL      string            `json:"normalizedUrl"`
	StatusCode         int               `json:"statusCode"`
	ContentType        string            `json:"contentType"`
	RenderMode         RenderMode        `json:"renderMode"`
	Depth              int               `json:"depth"`
	DiscoveredFrom     string            `json:"discoveredFrom,omitempty"`
	RawHTMLHash        string            `json:"rawHtmlHash"`
	DOMHash            string            `json:"domHash,omitempty"`
	NavEndReason       NavEndReason      `json:"navEndReason"`
	RedirectChain      []RedirectHop     `json:"redirectChain,omitempty"`
	FetchMs            int64             `json:"fetchMs"`
	RenderMs           int64             `json:"renderMs"`
	InternalLinksCount int               `json:"internalLinksCount"`
	ExternalLinksCount int               `json:"externalLinksCount"`
	MediaAssetsCount   int               `json:"mediaAssetsCount"`
	Title              string            `json:"title,omitempty"`
	MetaDescription    string            `json:"metaDescription,omitempty"`
	Headings           []string          `json:"headings,omitempty"`
	Canonical          string            `json:"canonical,omitempty"`
	RobotsMeta         string            `json:"robotsMeta,omitempty"`
	Hreflang           map[string]string `json:"hreflang,omitempty"`
	OpenGraph          map[string]string `json:"openGraph,omitempty"`
	TwitterCard        map[string]string `json:"twitterCard,omitempty"`
	Technologies       []string          `json:"technologies,omitempty"`
	SEO                map[string]any    `json:"seo,omitempty"`
	Accessibility      *AccessibilitySummary `json:"accessibility,omitempty"`
	Media              *PageMedia        `json:"media,omitempty"`
}

// AccessibilitySummary is the lightweight per-page counter subset embedded
// directly in a PageRecord; the fuller AccessibilityRecord lives in its own
// dataset.
type AccessibilitySummary struct {
	MissingAltCount int `json:"missingAltCount"`
	HeadingCount    int `json:"headingCount"`
}

// PageMedia references optional captured media, relative to the archive root.
type PageMedia struct {
	ScreenshotDesktop string `json:"screenshotDesktop,omitempty"`
	ScreenshotMobile  string `json:"screenshotMobile,omitempty"`
	Favicon           string `json:"favicon,omitempty"`
}

// EdgeRecord is one discovered hyperlink.
type EdgeRecord struct {
	SourceURL        string       `json:"sourceUrl"`
	TargetURL        string       `json:"targetUrl"`
	IsExternal       bool         `json:"isExternal"`
	AnchorText       string       `json:"anchorText,omitempty"`
	Rel              string       `json:"rel,omitempty"`
	Nofollow         bool         `json:"nofollow"`
	Sponsored        bool         `json:"sponsored"`
	UGC              bool         `json:"ugc"`
	Location         LinkLocation `json:"location"`
	SelectorHint     string       `json:"selectorHint,omitempty"`
	DiscoveredInMode RenderMode   `json:"discoveredInMode"`
	LinkType         LinkType     `json:"linkType"`
}

// AssetRecord is a discovered sub-resource reference (image, script, etc.)
type AssetRecord struct {
	PageURL     string     `json:"pageUrl"`
	Src         string     `json:"src"`
	Type        AssetType  `json:"type"`
	Alt         string     `json:"alt,omitempty"`
	HasAlt      bool       `json:"hasAlt"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	LoadingAttr string     `json:"loadingAttr,omitempty"`
	Visible     *bool      `json:"visible,omitempty"`
	InViewport  *bool      `json:"inViewport,omitempty"`
}

// ResponseRecord joins a page to its raw-body blob.
type ResponseRecord struct {
	PageID      string `json:"pageId"`
	Encoding    string `json:"encoding,omitempty"`
	BodyBlobRef string `json:"bodyBlobRef"`
}

// AccessibilityRecord is the full per-page accessibility dataset row.
type AccessibilityRecord struct {
	PageURL            string            `json:"pageUrl"`
	MissingAltCount    int               `json:"missingAltCount"`
	HeadingOrder       []string          `json:"headingOrder,omitempty"`
	Landmarks          AccessibilityLandmarks `json:"landmarks"`
	Roles              map[string]int    `json:"roles,omitempty"`
	WCAGData           map[string]any    `json:"wcagData,omitempty"`
	ContrastViolations []string          `json:"contrastViolations,omitempty"`
}

type AccessibilityLandmarks struct {
	Header bool `json:"header"`
	Nav    bool `json:"nav"`
	Main   bool `json:"main"`
	Aside  bool `json:"aside"`
	Footer bool `json:"footer"`
}

// ErrorRecord is one recoverable-or-fatal error encountered during a crawl,
// counted against the error budget per internal/events' classification.
type ErrorRecord struct {
	URL         string     `json:"url,omitempty"`
	Origin      string     `json:"origin,omitempty"`
	Host        string     `json:"host,omitempty"`
	Phase       ErrorPhase `json:"phase"`
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// EventRecord is a structured operational event: checkpoints, shutdowns,
// rate-limit hits, robots denials. Never drives control flow.
type EventRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// PartPointer locates a dataset writer's position for checkpoint/resume.
type PartPointer struct {
	Filename   string `json:"filename"`
	ByteOffset int64  `json:"byteOffset"`
}

// Checkpoint snapshots enough state to resume a crawl in progress.
type Checkpoint struct {
	CrawlID           string                 `json:"crawlId"`
	VisitedCount      int                    `json:"visitedCount"`
	EnqueuedCount     int                    `json:"enqueuedCount"`
	QueueDepth        int                    `json:"queueDepth"`
	VisitedIndexFile  string                 `json:"visitedIndexFile"`
	FrontierSnapshot  []FrontierEntry        `json:"frontierSnapshot"`
	LastPartPointers  map[string]PartPointer `json:"lastPartPointers"`
	RSSMB             float64                `json:"rssMB"`
	Timestamp         time.Time              `json:"timestamp"`
}

// ScreenshotPair holds the desktop and mobile viewport captures taken in
// full mode.
type ScreenshotPair struct {
	Desktop []byte
	Mobile  []byte
}

// Favicon is a captured favicon, deduplicated per origin.
type Favicon struct {
	Bytes    []byte
	MimeType string
}

// ConsoleLogEntry is one captured browser console message (full mode).
type ConsoleLogEntry struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ComputedTextStyle is one sampled text node's resolved CSS (full mode).
type ComputedTextStyle struct {
	Selector   string `json:"selector"`
	FontFamily string `json:"fontFamily"`
	FontSize   string `json:"fontSize"`
	Color      string `json:"color"`
}

// ConsoleRecord is one ConsoleLogEntry joined to the page it came from, as
// written to the console dataset (full mode only).
type ConsoleRecord struct {
	PageURL   string    `json:"pageUrl"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StyleRecord is one ComputedTextStyle joined to the page it came from, as
// written to the styles dataset (full mode only).
type StyleRecord struct {
	PageURL    string `json:"pageUrl"`
	Selector   string `json:"selector"`
	FontFamily string `json:"fontFamily"`
	FontSize   string `json:"fontSize"`
	Color      string `json:"color"`
}

// DomSnapshotRecord is a page's serialized live DOM, as written to the
// dom_snapshots dataset (full mode only).
type DomSnapshotRecord struct {
	PageURL string `json:"pageUrl"`
	DOMHash string `json:"domHash,omitempty"`
	HTML    string `json:"html"`
}

// RenderResult is what the Renderer Pool returns for one URL, regardless of
// mode; fields that don't apply to the mode in effect are left zero.
type RenderResult struct {
	URL                      string
	FinalURL                 string
	StatusCode               int
	ContentType              string
	RawBody                  []byte
	RawHTMLHash              string
	LiveDOMSerialized        string
	DOMHash                  string
	NavEndReason             NavEndReason
	RedirectChain            []RedirectHop
	FetchMs                  int64
	RenderMs                 int64
	Screenshots              *ScreenshotPair
	FaviconRef               *Favicon
	ConsoleLogs              []ConsoleLogEntry
	ComputedTextStyles       []ComputedTextStyle
	RequestCount             int
	FailedRequestCount       int
	FirstPaintMs             int64
	FirstContentfulPaintMs   int64
	DOMInteractiveMs         int64
}

// AtlasSummary is the live, then final, per-crawl rollup written as
// summary.json.
type AtlasSummary struct {
	CrawlID            string           `json:"crawlId"`
	PagesWritten       int              `json:"pagesWritten"`
	StatusCodeHistogram map[string]int  `json:"statusCodeHistogram"`
	RenderModeHistogram map[string]int  `json:"renderModeHistogram"`
	MaxDepthReached    int              `json:"maxDepthReached"`
	ErrorCount         int              `json:"errorCount"`
	CompletionReason   CompletionReason `json:"completionReason,omitempty"`
	GracefulShutdown   bool             `json:"gracefulShutdown,omitempty"`
}

// ProvenanceInput names one dataset that fed into a derived dataset.
type ProvenanceInput struct {
	Dataset    string `json:"dataset"`
	HashSha256 string `json:"hashSha256"`
}

// ProvenanceOutput records what a dataset produced.
type ProvenanceOutput struct {
	RecordCount int64  `json:"recordCount"`
	HashSha256  string `json:"hashSha256"`
}

// ProvenanceProducer identifies the tool that wrote a dataset.
type ProvenanceProducer struct {
	App     string `json:"app"`
	Version string `json:"version"`
	Module  string `json:"module"`
}

// ProvenanceRecord documents, per dataset, who produced it, from what
// inputs, and with what parameters — one line of provenance.v1.jsonl.
type ProvenanceRecord struct {
	DatasetName string             `json:"datasetName"`
	Producer    ProvenanceProducer `json:"producer"`
	CreatedAt   time.Time          `json:"createdAt"`
	Inputs      []ProvenanceInput  `json:"inputs,omitempty"`
	Parameters  map[string]any     `json:"parameters,omitempty"`
	Output      ProvenanceOutput   `json:"output"`
}

// DatasetManifestEntry is one dataset's entry in Manifest.Datasets.
type DatasetManifestEntry struct {
	Present       bool              `json:"present"`
	PartCount     int               `json:"partCount"`
	RecordCount   int64             `json:"recordCount"`
	Bytes         int64             `json:"bytes"`
	Schema        string            `json:"schema"`
	SchemaVersion string            `json:"schemaVersion"`
	SchemaHash    string            `json:"schemaHash"`
	Integrity     IntegritySection  `json:"integrity"`
}

// PartIndexEntry is one entry of Manifest.PartsIndex.
type PartIndexEntry struct {
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	SchemaRef         string   `json:"schemaRef"`
	ContentType       string   `json:"contentType"`
	ContentEncoding   string   `json:"contentEncoding"`
	RecordCount       int64    `json:"recordCount"`
	BytesUncompressed int64    `json:"bytesUncompressed"`
	BytesCompressed   int64    `json:"bytesCompressed"`
	Sha256            string   `json:"sha256"`
	DependsOn         []string `json:"dependsOn,omitempty"`
}

// CoverageRow is one entry of Manifest.Coverage.Matrix.
type CoverageRow struct {
	Part          string `json:"part"`
	Expected      bool   `json:"expected"`
	Present       bool   `json:"present"`
	RowCount      int64  `json:"rowCount"`
	ReasonIfAbsent string `json:"reasonIfAbsent,omitempty"`
}

// Coverage wraps the coverage matrix.
type Coverage struct {
	Matrix []CoverageRow `json:"matrix"`
}

// Pack describes a capability pack's embedding state.
type Pack struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"` // embedded|sidecar|missing
	URI     string `json:"uri,omitempty"`
	Sha256  string `json:"sha256,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// CompressionInfo describes the compression used for all parts.
type CompressionInfo struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
}

// StorageInfo describes compression/blob/replay configuration.
type StorageInfo struct {
	Compression      CompressionInfo `json:"compression"`
	BlobFormat       string          `json:"blobFormat"`
	ReplayTier       string          `json:"replayTier"`
	ContentAddressing string        `json:"contentAddressing"`
	Media            string          `json:"media,omitempty"`
}

// Identity names the crawl's primary origin and seed set.
type Identity struct {
	PrimaryOrigin string   `json:"primaryOrigin"`
	SeedUrls      []string `json:"seedUrls"`
}

// Producer identifies the tool build that produced the archive.
type Producer struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Build       string `json:"build"`
	GitHash     string `json:"gitHash,omitempty"`
	CommandLine string `json:"commandLine,omitempty"`
}

// BrowserInfo identifies the rendering engine used, if any.
type BrowserInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Headless bool   `json:"headless"`
}

// PlatformInfo identifies the producing host's OS/arch.
type PlatformInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// Environment snapshots the producing environment at crawl start.
type Environment struct {
	Device   string      `json:"device"`
	Viewport string      `json:"viewport"`
	UserAgent string     `json:"userAgent"`
	Locale   string      `json:"locale"`
	Timezone string      `json:"timezone"`
	Browser  BrowserInfo `json:"browser"`
	Platform PlatformInfo `json:"platform"`
}

// PrivacyPolicy records what redaction was applied during the crawl.
type PrivacyPolicy struct {
	StripCookies     bool `json:"stripCookies"`
	StripAuthHeaders bool `json:"stripAuthHeaders"`
	RedactInputs     bool `json:"redactInputs"`
	RedactForms      bool `json:"redactForms"`
}

// RobotsPolicy records the robots.txt posture in effect for the crawl.
type RobotsPolicy struct {
	Respect        bool   `json:"respect"`
	OverridesUsed  bool   `json:"overridesUsed"`
	OverrideReason string `json:"overrideReason,omitempty"`
}

// Hashing names the hash algorithms used throughout the archive.
type Hashing struct {
	Algorithm   string `json:"algorithm"`
	URLKeyAlgo  string `json:"urlKeyAlgo"`
	RawHTMLHash string `json:"rawHtmlHash"`
	DOMHash     string `json:"domHash"`
}

// IntegritySection is a relPath -> sha256 checksum map plus its Merkle root.
type IntegritySection struct {
	Files         map[string]string `json:"files,omitempty"`
	ArchiveSha256 string            `json:"archiveSha256,omitempty"`
}

// Manifest is manifest.json: the archive's single source of truth.
type Manifest struct {
	AtlasVersion     string                          `json:"atlasVersion"`
	FormatVersion    string                          `json:"formatVersion"`
	SpecVersion      string                          `json:"specVersion"`
	SchemaVersion    string                          `json:"schemaVersion"`
	Owner            string                          `json:"owner,omitempty"`
	Consumers        []string                        `json:"consumers,omitempty"`
	Identity         Identity                        `json:"identity"`
	CrawlStartedAt   time.Time                       `json:"crawlStartedAt"`
	CrawlCompletedAt time.Time                       `json:"crawlCompletedAt,omitempty"`
	Producer         Producer                        `json:"producer"`
	Environment      Environment                     `json:"environment"`
	PrivacyPolicy    PrivacyPolicy                   `json:"privacyPolicy"`
	RobotsPolicy     RobotsPolicy                    `json:"robotsPolicy"`
	CrawlConfigHash  string                          `json:"crawlConfigHash"`
	Hashing          Hashing                         `json:"hashing"`
	Datasets         map[string]DatasetManifestEntry `json:"datasets"`
	PartsIndex       []PartIndexEntry                `json:"partsIndex"`
	Coverage         Coverage                        `json:"coverage"`
	Storage          StorageInfo                     `json:"storage"`
	Packs            []Pack                          `json:"packs,omitempty"`
	Integrity        IntegritySection                `json:"integrity"`
	Incomplete       bool                            `json:"incomplete"`
}

// NormalizedURL holds the canonical form of a URL plus its derived keys.
type NormalizedURL struct {
	URL    *url.URL
	Origin string
	Host   string
	Key    string // SHA-1 hex
}

func (n NormalizedURL) String() string {
	if n.URL == nil {
		return ""
	}
	return n.URL.String()
}
