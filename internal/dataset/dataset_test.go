package dataset_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/rohmanhakim/atlas-crawler/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string"},
		"status": {"type": "integer"}
	},
	"required": ["url", "status"],
	"additionalProperties": true
}`

func newWriter(t *testing.T, dir string) *dataset.Writer {
	t.Helper()
	w, err := dataset.NewWriter(dir, "pages", "v1", "https://atlas.example/schemas/pages.json", []byte(testSchema), 0, nil)
	require.NoError(t, err)
	return w
}

func TestWrite_ValidRecordSucceeds(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)

	err := w.Write(map[string]any{"url": "https://example.com/", "status": 200})
	assert.NoError(t, err)
}

func TestWrite_InvalidRecordReturnsSchemaError(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)

	err := w.Write(map[string]any{"url": "https://example.com/"})
	require.Error(t, err)
	var schemaErr *dataset.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestFinalize_EmptyDatasetHasNoParts(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)

	meta, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.RecordCount)
	assert.Empty(t, meta.Parts)
}

func TestFinalize_EmptyDatasetLeavesNoFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)

	_, err := w.Finalize()
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "pages"))
	require.NoError(t, err)
	assert.Empty(t, entries, "an untouched dataset should leave no stray part file behind")
}

func TestNewWriter_ResumesAppendingAtRecordedOffset(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/a", "status": 200}))
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/b", "status": 200}))
	require.NoError(t, w.FlushAndSync())
	part, offset := w.CurrentPartPointer()

	resumed, err := dataset.NewWriter(dir, "pages", "v1", "https://atlas.example/schemas/pages.json", []byte(testSchema), 0,
		&dataset.ResumePointer{Part: part, Offset: offset})
	require.NoError(t, err)
	require.NoError(t, resumed.Write(map[string]any{"url": "https://example.com/c", "status": 200}))

	meta, err := resumed.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.RecordCount)
}

func TestFinalize_CompressesPartsAndComputesDatasetHash(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)

	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/a", "status": 200}))
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/b", "status": 404}))

	meta, err := w.Finalize()
	require.NoError(t, err)

	assert.Equal(t, int64(2), meta.RecordCount)
	require.Len(t, meta.Parts, 1)
	assert.NotEmpty(t, meta.DatasetHashSha256)
	assert.Len(t, meta.DatasetHashSha256, 64)

	// the uncompressed part must be gone; only the .zst survives.
	entries, err := os.ReadDir(filepath.Join(dir, "pages"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ".zst", filepath.Ext(e.Name()))
		if filepath.Ext(e.Name()) == ".zst" {
			continue
		}
	}
}

func TestFinalize_CompressedPartDecompressesToOriginalJSONL(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/a", "status": 200}))

	meta, err := w.Finalize()
	require.NoError(t, err)
	require.Len(t, meta.Parts, 1)

	raw, err := os.ReadFile(filepath.Join(dir, "pages", meta.Parts[0]))
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	decompressed, err := dec.DecodeAll(raw, nil)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(decompressed[:len(decompressed)-1], &record))
	assert.Equal(t, "https://example.com/a", record["url"])
}

func TestWrite_RotatesWhenMaxPartBytesExceeded(t *testing.T) {
	dir := t.TempDir()
	w, err := dataset.NewWriter(dir, "pages", "v1", "https://atlas.example/schemas/pages.json", []byte(testSchema), 10, nil)
	require.NoError(t, err)

	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/a", "status": 200}))
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/b", "status": 200}))

	meta, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.RecordCount)
	assert.GreaterOrEqual(t, len(meta.Parts), 2)
}

func TestFlushAndSync_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(t, dir)
	require.NoError(t, w.Write(map[string]any{"url": "https://example.com/a", "status": 200}))
	assert.NoError(t, w.FlushAndSync())
	assert.NoError(t, w.FlushAndSync())
}
