package rpc

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc/encoding"
)

// GzipName is the registered name of the gzip message compressor.
// Dial options built by this package request it for every call.
const GzipName = "gzip"

func init() {
	encoding.RegisterCompressor(&gzipCompressor{
		writers: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(io.Discard)
			},
		},
	})
}

// gzipCompressor implements grpc's encoding.Compressor on top of
// klauspost/compress, pooling writers across calls.
type gzipCompressor struct {
	writers sync.Pool
}

func (c *gzipCompressor) Name() string {
	return GzipName
}

func (c *gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	gw := c.writers.Get().(*gzip.Writer)
	gw.Reset(w)
	return &pooledWriter{Writer: gw, pool: &c.writers}, nil
}

func (c *gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

type pooledWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

func (p *pooledWriter) Close() error {
	err := p.Writer.Close()
	p.pool.Put(p.Writer)
	return err
}
