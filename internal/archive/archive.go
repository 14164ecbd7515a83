// Package archive implements the Archive Writer (C9): it owns the staging
// directory, forwards typed records to per-dataset writers, keeps the live
// AtlasSummary and urlKey->pageId join table, and runs the finalization
// protocol that turns a staging directory into a single .atls file.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/internal/blob"
	"github.com/rohmanhakim/atlas-crawler/internal/build"
	"github.com/rohmanhakim/atlas-crawler/internal/config"
	"github.com/rohmanhakim/atlas-crawler/internal/dataset"
	"github.com/rohmanhakim/atlas-crawler/pkg/fileutil"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
)

const flushEveryRecords = 1000

// Capabilities is capabilities.v1.json: what this archive can be expected
// to contain, derived once from config at init.
type Capabilities struct {
	RenderMode           atlas.RenderMode `json:"renderMode"`
	ReplayTier           string           `json:"replayTier"`
	AccessibilityEnabled bool             `json:"accessibilityEnabled"`
	SEOEnhanced          bool             `json:"seoEnhanced"`
}

// Writer is the Archive Writer. One instance per crawl.
type Writer struct {
	cfg         config.Config
	crawlID     string
	stagingDir  string
	commandLine string

	blobStore *blob.Store

	mu              sync.Mutex
	datasets        map[string]*dataset.Writer
	pageIDs         map[string]string // urlKey -> pageId
	recordsSinceFlush int
	summary         atlas.AtlasSummary
	startedAt       time.Time
	overridesUsed   bool
	overrideReason  string
}

// New creates the staging directory, the dataset writers this render mode
// requires, the blob store, and writes capabilities.v1.json and the initial
// (incomplete) manifest.json. resumePointers, when non-nil, is a previous
// crawl's checkpoint.LastPartPointers: each named dataset reopens its last
// part for append at the recorded offset instead of truncating it away.
func New(cfg config.Config, crawlID, stagingDir, commandLine string, resumePointers map[string]atlas.PartPointer) (*Writer, error) {
	if err := fileutil.EnsureDir(stagingDir); err != nil {
		return nil, err
	}

	layout := blob.LayoutIndividual
	if cfg.BlobLayout() == string(blob.LayoutPacked) {
		layout = blob.LayoutPacked
	}

	w := &Writer{
		cfg:         cfg,
		crawlID:     crawlID,
		stagingDir:  stagingDir,
		commandLine: commandLine,
		blobStore:   blob.New(stagingDir, layout),
		datasets:    make(map[string]*dataset.Writer),
		pageIDs:     make(map[string]string),
		startedAt:   time.Now(),
		summary: atlas.AtlasSummary{
			CrawlID:             crawlID,
			StatusCodeHistogram: make(map[string]int),
			RenderModeHistogram: make(map[string]int),
		},
	}

	for _, name := range w.requiredDatasets() {
		if err := w.openDataset(name, resumePointers); err != nil {
			return nil, err
		}
	}

	if err := w.writeCapabilities(); err != nil {
		return nil, err
	}
	if err := w.writeManifest(true); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) requiredDatasets() []string {
	names := []string{"pages", "edges", "assets", "responses", "errors", "events"}
	mode := w.cfg.RenderMode()
	if mode != atlas.RenderModeRaw && w.cfg.AccessibilityEnabled() {
		names = append(names, "accessibility")
	}
	if mode == atlas.RenderModeFull {
		names = append(names, "dom_snapshots", "console", "styles")
	}
	return names
}

func (w *Writer) schemaFor(name string) datasetSchema {
	for _, s := range datasetSchemas {
		if s.name == name {
			return s
		}
	}
	return datasetSchema{name: name, version: schemaVersion, uri: "https://atlas.schema/" + name + ".schema.json", json: `{"type":"object"}`}
}

func (w *Writer) openDataset(name string, resumePointers map[string]atlas.PartPointer) error {
	s := w.schemaFor(name)
	var resume *dataset.ResumePointer
	if pointer, ok := resumePointers[name]; ok {
		resume = &dataset.ResumePointer{Part: filepath.Base(pointer.Filename), Offset: pointer.ByteOffset}
	}
	dw, err := dataset.NewWriter(w.stagingDir, name, s.version, s.uri, []byte(s.json), w.cfg.MaxPartBytes(), resume)
	if err != nil {
		return err
	}
	w.datasets[name] = dw
	return nil
}

func (w *Writer) writeCapabilities() error {
	caps := Capabilities{
		RenderMode:           w.cfg.RenderMode(),
		ReplayTier:           replayTierFor(w.cfg.RenderMode()),
		AccessibilityEnabled: w.cfg.AccessibilityEnabled(),
		SEOEnhanced:          w.cfg.SEOEnhanced(),
	}
	b, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(filepath.Join(w.stagingDir, "capabilities.v1.json"), b, 0o644)
}

func replayTierFor(mode atlas.RenderMode) string {
	switch mode {
	case atlas.RenderModeFull:
		return "full"
	case atlas.RenderModePrerender:
		return "prerender"
	default:
		return "raw"
	}
}

// BlobStore exposes the crawl's content-addressed store to renderers and
// extractors that need to persist raw bodies, screenshots, or favicons.
func (w *Writer) BlobStore() *blob.Store {
	return w.blobStore
}

// SetRobotsPolicy records whether robots overrides were used this crawl, for
// manifest.robotsPolicy.
func (w *Writer) SetRobotsPolicy(used bool, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overridesUsed = used
	w.overrideReason = reason
}

// AssignPageID mints a pageId for urlKey if one doesn't already exist, and
// returns it. Ancillary datasets join on this id.
func (w *Writer) AssignPageID(urlKey string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.pageIDs[urlKey]; ok {
		return id
	}
	id := uuid.New().String()
	w.pageIDs[urlKey] = id
	return id
}

// PageID returns the pageId previously assigned to urlKey, if any.
func (w *Writer) PageID(urlKey string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.pageIDs[urlKey]
	return id, ok
}

// WritePage writes a PageRecord and updates the live summary's histograms
// and max-depth counter.
func (w *Writer) WritePage(rec atlas.PageRecord) error {
	w.mu.Lock()
	w.summary.PagesWritten++
	w.summary.StatusCodeHistogram[strconv.Itoa(rec.StatusCode)]++
	w.summary.RenderModeHistogram[string(rec.RenderMode)]++
	if rec.Depth > w.summary.MaxDepthReached {
		w.summary.MaxDepthReached = rec.Depth
	}
	w.mu.Unlock()
	return w.write("pages", rec)
}

func (w *Writer) WriteEdge(rec atlas.EdgeRecord) error           { return w.write("edges", rec) }
func (w *Writer) WriteAsset(rec atlas.AssetRecord) error         { return w.write("assets", rec) }
func (w *Writer) WriteResponse(rec atlas.ResponseRecord) error   { return w.write("responses", rec) }
func (w *Writer) WriteAccessibility(rec atlas.AccessibilityRecord) error {
	return w.write("accessibility", rec)
}
func (w *Writer) WriteDomSnapshot(rec atlas.DomSnapshotRecord) error { return w.write("dom_snapshots", rec) }
func (w *Writer) WriteConsole(rec atlas.ConsoleRecord) error         { return w.write("console", rec) }
func (w *Writer) WriteStyle(rec atlas.StyleRecord) error             { return w.write("styles", rec) }

// WriteError writes an ErrorRecord and bumps the live error count used by
// the scheduler's error-budget check.
func (w *Writer) WriteError(rec atlas.ErrorRecord) error {
	w.mu.Lock()
	w.summary.ErrorCount++
	w.mu.Unlock()
	return w.write("errors", rec)
}

func (w *Writer) WriteEvent(rec atlas.EventRecord) error { return w.write("events", rec) }

func (w *Writer) write(datasetName string, rec any) error {
	w.mu.Lock()
	dw, ok := w.datasets[datasetName]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("dataset %q is not open for this render mode", datasetName)
	}
	if err := dw.Write(rec); err != nil {
		return err
	}

	w.mu.Lock()
	w.recordsSinceFlush++
	shouldFlush := w.recordsSinceFlush >= flushEveryRecords
	if shouldFlush {
		w.recordsSinceFlush = 0
	}
	w.mu.Unlock()

	if shouldFlush {
		return w.BulkFlush()
	}
	return nil
}

// BulkFlush flushes and fsyncs every open dataset stream. Called on the
// 1000-record cadence, before every checkpoint, and on shutdown.
func (w *Writer) BulkFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dw := range w.datasets {
		if err := dw.FlushAndSync(); err != nil {
			return err
		}
	}
	return nil
}

// PartPointers returns each open dataset's current part name and byte
// offset, for the checkpoint's lastPartPointers map.
func (w *Writer) PartPointers() map[string]atlas.PartPointer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]atlas.PartPointer, len(w.datasets))
	for name, dw := range w.datasets {
		part, offset := dw.CurrentPartPointer()
		out[name] = atlas.PartPointer{Filename: filepath.Join(name, part), ByteOffset: offset}
	}
	return out
}

func (w *Writer) writeManifest(incomplete bool) error {
	w.mu.Lock()
	m := w.buildManifestLocked(incomplete)
	w.mu.Unlock()

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(filepath.Join(w.stagingDir, "manifest.json"), b, 0o644)
}

func (w *Writer) buildManifestLocked(incomplete bool) atlas.Manifest {
	seeds := make([]string, 0, len(w.cfg.SeedURLs()))
	primaryOrigin := ""
	for i, u := range w.cfg.SeedURLs() {
		seeds = append(seeds, u.String())
		if i == 0 {
			primaryOrigin = u.Scheme + "://" + u.Host
		}
	}

	return atlas.Manifest{
		AtlasVersion:  "1.0",
		FormatVersion: "1.0.0",
		SpecVersion:   "1.0",
		SchemaVersion: schemaVersion,
		Identity:      atlas.Identity{PrimaryOrigin: primaryOrigin, SeedUrls: seeds},
		CrawlStartedAt: w.startedAt,
		Producer: atlas.Producer{
			Name:        "atlas-crawler",
			Version:     build.Version,
			Build:       build.BuildTime,
			GitHash:     build.Commit,
			CommandLine: w.commandLine,
		},
		Environment: atlas.Environment{
			Device:    "desktop",
			Viewport:  "1280x720",
			UserAgent: w.cfg.UserAgent(),
			Locale:    "en-US",
			Timezone:  "UTC",
			Browser:   atlas.BrowserInfo{Name: "chromium", Headless: true},
			Platform:  atlas.PlatformInfo{OS: runtime.GOOS, Arch: runtime.GOARCH},
		},
		PrivacyPolicy: atlas.PrivacyPolicy{
			StripCookies:     true,
			StripAuthHeaders: true,
		},
		RobotsPolicy: atlas.RobotsPolicy{
			Respect:        w.cfg.RespectRobots(),
			OverridesUsed:  w.overridesUsed,
			OverrideReason: w.overrideReason,
		},
		Hashing: atlas.Hashing{
			Algorithm:   "sha256",
			URLKeyAlgo:  "sha1",
			RawHTMLHash: "sha256 of raw body",
			DOMHash:     "sha256 of serialized live DOM",
		},
		Storage: atlas.StorageInfo{
			Compression:       atlas.CompressionInfo{Algorithm: "zstd", Level: 3},
			BlobFormat:        w.cfg.BlobLayout(),
			ReplayTier:        replayTierFor(w.cfg.RenderMode()),
			ContentAddressing: "sha256",
		},
		Incomplete: incomplete,
	}
}

// Finalize runs the nine-step finalization protocol: closes every stream,
// compresses parts, writes provenance and schemas, builds and atomically
// publishes manifest.json, then packs the staging directory into a single
// ZIP at outPath. Returns the final path on success.
func (w *Writer) Finalize(outPath string, reason atlas.CompletionReason, gracefulShutdown bool) (string, error) {
	if err := w.BlobStore().Close(); err != nil {
		return "", err
	}

	metas := make(map[string]dataset.Meta, len(w.datasets))
	for name, dw := range w.datasets {
		meta, err := dw.Finalize()
		if err != nil {
			return "", fmt.Errorf("finalizing dataset %q: %w", name, err)
		}
		metas[name] = meta
	}

	if err := w.writeProvenance(metas); err != nil {
		return "", err
	}
	if err := w.writeSchemas(); err != nil {
		return "", err
	}

	w.mu.Lock()
	w.summary.CompletionReason = reason
	w.summary.GracefulShutdown = gracefulShutdown
	summary := w.summary
	w.mu.Unlock()

	summaryBytes, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(w.stagingDir, "summary.json"), summaryBytes, 0o644); err != nil {
		return "", err
	}

	w.mu.Lock()
	w.summary.CompletionReason = reason
	manifest := w.buildManifestLocked(true)
	manifest.CrawlCompletedAt = time.Now()
	manifest.Datasets = manifestDatasetEntries(metas)
	manifest.PartsIndex = manifestPartsIndex(metas)
	manifest.Coverage = atlas.Coverage{Matrix: manifestCoverage(metas, w.requiredDatasets())}
	w.mu.Unlock()

	if err := w.writeManifestValue(manifest); err != nil {
		return "", err
	}

	integrity, err := computeIntegrity(w.stagingDir)
	if err != nil {
		return "", err
	}
	manifest.Integrity = integrity
	manifest.Incomplete = false

	if err := w.writeManifestValue(manifest); err != nil {
		return "", err
	}

	finalPath, err := packZip(w.stagingDir, outPath)
	if err != nil {
		return "", err
	}
	return finalPath, nil
}

func (w *Writer) writeManifestValue(m atlas.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(filepath.Join(w.stagingDir, "manifest.json"), b, 0o644)
}

func manifestDatasetEntries(metas map[string]dataset.Meta) map[string]atlas.DatasetManifestEntry {
	out := make(map[string]atlas.DatasetManifestEntry, len(metas))
	for name, meta := range metas {
		out[name] = atlas.DatasetManifestEntry{
			Present:       meta.RecordCount > 0,
			PartCount:     len(meta.Parts),
			RecordCount:   meta.RecordCount,
			Bytes:         meta.BytesCompressed,
			Schema:        meta.SchemaURI,
			SchemaVersion: meta.Version,
			SchemaHash:    meta.DatasetHashSha256,
		}
	}
	return out
}

func manifestPartsIndex(metas map[string]dataset.Meta) []atlas.PartIndexEntry {
	var out []atlas.PartIndexEntry
	for name, meta := range metas {
		for _, part := range meta.Parts {
			out = append(out, atlas.PartIndexEntry{
				Name:            name,
				Path:            filepath.Join(name, part),
				SchemaRef:       meta.SchemaURI,
				ContentType:     "application/x-ndjson",
				ContentEncoding: "zstd",
				RecordCount:     meta.RecordCount,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func manifestCoverage(metas map[string]dataset.Meta, required []string) []atlas.CoverageRow {
	rows := make([]atlas.CoverageRow, 0, len(required))
	for _, name := range required {
		meta, ok := metas[name]
		present := ok && meta.RecordCount > 0
		row := atlas.CoverageRow{Part: name, Expected: true, Present: present}
		if ok {
			row.RowCount = meta.RecordCount
		}
		if !present {
			row.ReasonIfAbsent = "no records produced"
		}
		rows = append(rows, row)
	}
	return rows
}

func (w *Writer) writeProvenance(metas map[string]dataset.Meta) error {
	names := make([]string, 0, len(metas))
	for name := range metas {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf []byte
	for _, name := range names {
		meta := metas[name]
		rec := atlas.ProvenanceRecord{
			DatasetName: name,
			Producer: atlas.ProvenanceProducer{
				App:     "atlas-crawler",
				Version: build.Version,
				Module:  "github.com/rohmanhakim/atlas-crawler",
			},
			CreatedAt: time.Now(),
			Output: atlas.ProvenanceOutput{
				RecordCount: meta.RecordCount,
				HashSha256:  meta.DatasetHashSha256,
			},
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	rawPath := filepath.Join(w.stagingDir, "provenance.v1.jsonl")
	if err := fileutil.WriteFileAtomic(rawPath, buf, 0o644); err != nil {
		return err
	}
	return compressAndRemove(rawPath, rawPath+".zst")
}

func (w *Writer) writeSchemas() error {
	dir := filepath.Join(w.stagingDir, "schemas")
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	for _, s := range datasetSchemas {
		path := filepath.Join(dir, s.name+".schema.json")
		if err := fileutil.WriteFileAtomic(path, []byte(s.json), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func computeIntegrity(root string) (atlas.IntegritySection, error) {
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if filepath.Base(rel) == "manifest.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hash, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = hash
		return nil
	})
	if err != nil {
		return atlas.IntegritySection{}, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var concatenated []byte
	for _, name := range names {
		concatenated = append(concatenated, files[name]...)
	}
	root256, err := hashutil.HashBytes(concatenated, hashutil.HashAlgoSHA256)
	if err != nil {
		return atlas.IntegritySection{}, err
	}

	return atlas.IntegritySection{Files: files, ArchiveSha256: root256}, nil
}

// packZip walks stagingDir and writes every file into a stored-method (no
// deflate) ZIP at <outPath>.tmp, then atomically renames it to outPath.
func packZip(stagingDir, outPath string) (string, error) {
	tmpPath := outPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	zw := zip.NewWriter(out)
	err = filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		header := &zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Store}
		header.SetModTime(info.ModTime())
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		out.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func compressAndRemove(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := newZstdWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(srcPath)
}
