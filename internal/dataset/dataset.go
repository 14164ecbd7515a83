// Package dataset implements the per-dataset JSONL writer (C8): schema
// validation, size-rotated parts, and Zstandard finalize.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rohmanhakim/atlas-crawler/pkg/fileutil"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const defaultMaxPartBytes int64 = 150 * 1024 * 1024

const flushEveryRecords = 1000

// PartInfo tracks per-part record/byte counters.
type PartInfo struct {
	Name    string
	Records int64
	Bytes   int64
}

// Meta is the result of Finalize: everything the archive manifest needs
// about one dataset.
type Meta struct {
	Name              string
	Version           string
	RecordCount       int64
	BytesCompressed   int64
	DatasetHashSha256 string
	SchemaURI         string
	Parts             []string
}

// Writer is a single dataset's JSONL writer, validating every record
// against a compiled schema before it lands on disk.
type Writer struct {
	name      string
	version   string
	schemaURI string
	schema    *jsonschema.Schema

	dir          string
	maxPartBytes int64

	file           *os.File
	bufw           *bufio.Writer
	currentPart    int
	currentBytes   int64
	recordsInPart  int64
	recordsSinceSync int64
	parts          []PartInfo
	totalRecords   int64
}

// ResumePointer tells NewWriter to reopen a part left by a previous run
// instead of starting fresh. Any bytes after Offset are a torn write from
// the crash the checkpoint recorded and are truncated away.
type ResumePointer struct {
	Part   string
	Offset int64
}

// NewWriter compiles schemaJSON under schemaURI and prepares a writer that
// emits parts into dir/<name>/part-NNN.jsonl. If resume is non-nil, the
// writer reopens resume.Part for append at resume.Offset instead of
// truncating it, and seeds its part list and record count from what's
// already on disk so Finalize still accounts for pre-crash records.
func NewWriter(dir, name, version, schemaURI string, schemaJSON []byte, maxPartBytes int64, resume *ResumePointer) (*Writer, error) {
	if maxPartBytes <= 0 {
		maxPartBytes = defaultMaxPartBytes
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURI, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("dataset %s: compiling schema: %w", name, err)
	}
	sch, err := c.Compile(schemaURI)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: compiling schema: %w", name, err)
	}

	datasetDir := filepath.Join(dir, name)
	if err := fileutil.EnsureDir(datasetDir); err != nil {
		return nil, err
	}

	w := &Writer{
		name:         name,
		version:      version,
		schemaURI:    schemaURI,
		schema:       sch,
		dir:          datasetDir,
		maxPartBytes: maxPartBytes,
	}
	if resume != nil {
		if err := w.resumeAt(resume); err != nil {
			return nil, err
		}
		return w, nil
	}
	if err := w.openPart(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) partName(n int) string {
	return fmt.Sprintf("part-%03d.jsonl", n)
}

func (w *Writer) openPart() error {
	name := w.partName(w.currentPart)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.bufw = bufio.NewWriter(f)
	w.currentBytes = 0
	w.recordsInPart = 0
	return nil
}

// resumeAt reconstructs w.parts for every part a prior run already rotated
// past, then truncates the part named by resume.Part to resume.Offset and
// reopens it for append, seeding currentPart/totalRecords from what
// survives rather than starting both back at zero.
func (w *Writer) resumeAt(resume *ResumePointer) error {
	var partIdx int
	if _, err := fmt.Sscanf(resume.Part, "part-%d.jsonl", &partIdx); err != nil {
		return fmt.Errorf("dataset %s: parsing resume part %q: %w", w.name, resume.Part, err)
	}

	for i := 0; i < partIdx; i++ {
		name := w.partName(i)
		records, size, err := countRecords(filepath.Join(w.dir, name), -1)
		if err != nil {
			return fmt.Errorf("dataset %s: reopening prior part %s: %w", w.name, name, err)
		}
		w.parts = append(w.parts, PartInfo{Name: name, Records: records, Bytes: size})
		w.totalRecords += records
	}

	name := w.partName(partIdx)
	path := filepath.Join(w.dir, name)
	records, _, err := countRecords(path, resume.Offset)
	if err != nil {
		return fmt.Errorf("dataset %s: counting records in part %s: %w", w.name, name, err)
	}
	if err := os.Truncate(path, resume.Offset); err != nil {
		return fmt.Errorf("dataset %s: truncating part %s: %w", w.name, name, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("dataset %s: reopening part %s: %w", w.name, name, err)
	}

	w.file = f
	w.bufw = bufio.NewWriter(f)
	w.currentPart = partIdx
	w.currentBytes = resume.Offset
	w.recordsInPart = records
	w.totalRecords += records
	return nil
}

// countRecords counts complete JSONL lines in path within the first limit
// bytes (the whole file if limit < 0) and reports the file's actual size.
func countRecords(path string, limit int64) (records, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	size = info.Size()

	toRead := size
	if limit >= 0 && limit < toRead {
		toRead = limit
	}

	sc := bufio.NewScanner(io.LimitReader(f, toRead))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		records++
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	return records, size, nil
}

// Write validates record against the compiled schema and appends it as a
// JSONL line, rotating to a new part if maxPartBytes would be exceeded.
func (w *Writer) Write(record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return &SchemaError{Dataset: w.name, Message: err.Error()}
	}

	var instance any
	if err := json.Unmarshal(line, &instance); err != nil {
		return &SchemaError{Dataset: w.name, Message: err.Error()}
	}
	if err := w.schema.Validate(instance); err != nil {
		return &SchemaError{Dataset: w.name, Message: err.Error()}
	}

	lineLen := int64(len(line)) + 1
	if w.currentBytes > 0 && w.currentBytes+lineLen > w.maxPartBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if _, err := w.bufw.Write(line); err != nil {
		return err
	}
	if err := w.bufw.WriteByte('\n'); err != nil {
		return err
	}

	w.currentBytes += lineLen
	w.recordsInPart++
	w.totalRecords++
	w.recordsSinceSync++

	if w.recordsSinceSync >= flushEveryRecords {
		if err := w.FlushAndSync(); err != nil {
			return err
		}
	}
	return nil
}

// CurrentPartPointer reports the part file and byte offset currently being
// written, for the checkpoint's lastPartPointers map.
func (w *Writer) CurrentPartPointer() (name string, offset int64) {
	return w.partName(w.currentPart), w.currentBytes
}

// FlushAndSync flushes the buffered writer and fsyncs the underlying file.
func (w *Writer) FlushAndSync() error {
	if err := w.bufw.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.recordsSinceSync = 0
	return nil
}

func (w *Writer) rotate() error {
	if err := w.closePart(); err != nil {
		return err
	}
	w.currentPart++
	return w.openPart()
}

func (w *Writer) closePart() error {
	if err := w.FlushAndSync(); err != nil {
		return err
	}
	name := w.partName(w.currentPart)
	w.parts = append(w.parts, PartInfo{Name: name, Records: w.recordsInPart, Bytes: w.currentBytes})
	return w.file.Close()
}

// Finalize closes the current part, compresses every part with Zstandard
// (level 3), deletes the uncompressed originals, and returns the dataset's
// manifest metadata. Uncompressed parts are unlinked even if an earlier
// part's compression failed, so no plaintext remains in the output.
func (w *Writer) Finalize() (Meta, error) {
	if w.totalRecords == 0 {
		path := filepath.Join(w.dir, w.partName(w.currentPart))
		if err := w.file.Close(); err != nil {
			return Meta{}, err
		}
		if err := os.Remove(path); err != nil {
			return Meta{}, err
		}
		return Meta{
			Name:        w.name,
			Version:     w.version,
			RecordCount: 0,
			SchemaURI:   w.schemaURI,
			Parts:       nil,
		}, nil
	}

	if err := w.closePart(); err != nil {
		return Meta{}, err
	}

	var compressedNames []string
	hashes := make(map[string]string, len(w.parts))
	var totalCompressedBytes int64

	var firstErr error
	for _, p := range w.parts {
		compressedName, hash, size, err := w.compressPart(p.Name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			os.Remove(filepath.Join(w.dir, p.Name))
			continue
		}
		compressedNames = append(compressedNames, compressedName)
		hashes[compressedName] = hash
		totalCompressedBytes += size
	}
	if firstErr != nil {
		return Meta{}, firstErr
	}

	sort.Strings(compressedNames)
	var concatenated bytes.Buffer
	for _, name := range compressedNames {
		concatenated.WriteString(hashes[name])
	}
	datasetHash, err := hashutil.HashBytes(concatenated.Bytes(), hashutil.HashAlgoSHA256)
	if err != nil {
		return Meta{}, err
	}

	return Meta{
		Name:              w.name,
		Version:           w.version,
		RecordCount:       w.totalRecords,
		BytesCompressed:   totalCompressedBytes,
		DatasetHashSha256: datasetHash,
		SchemaURI:         w.schemaURI,
		Parts:             compressedNames,
	}, nil
}

func (w *Writer) compressPart(name string) (compressedName, hash string, size int64, err error) {
	srcPath := filepath.Join(w.dir, name)
	dstPath := srcPath + ".zst"

	src, err := os.Open(srcPath)
	if err != nil {
		return "", "", 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", "", 0, err
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		dst.Close()
		return "", "", 0, err
	}
	if _, err := enc.ReadFrom(src); err != nil {
		enc.Close()
		dst.Close()
		return "", "", 0, err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return "", "", 0, err
	}
	if err := dst.Close(); err != nil {
		return "", "", 0, err
	}
	if err := os.Remove(srcPath); err != nil {
		return "", "", 0, err
	}

	compressed, err := os.ReadFile(dstPath)
	if err != nil {
		return "", "", 0, err
	}
	h, err := hashutil.HashBytes(compressed, hashutil.HashAlgoSHA256)
	if err != nil {
		return "", "", 0, err
	}

	return strings.TrimPrefix(dstPath, w.dir+string(os.PathSeparator)), h, int64(len(compressed)), nil
}
