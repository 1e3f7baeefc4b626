package subscription

import (
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"google.golang.org/grpc/encoding"
)

// gzipCompressorName registers klauspost/compress's gzip implementation as
// the stream's wire compressor — push-feed updates are small individually
// but the stream runs continuously, so a faster gzip implementation than
// compress/gzip's pays for itself over a long-lived connection.
const gzipCompressorName = "gzip"

func init() {
	encoding.RegisterCompressor(gzipCompressor{})
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return gzipCompressorName }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return kgzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return kgzip.NewReader(r)
}
