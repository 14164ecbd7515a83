package archive

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// newZstdWriter wraps w with a level-3 Zstandard encoder, matching the
// compression level used for dataset parts so provenance.v1.jsonl.zst reads
// back with the same decoder.
func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}
