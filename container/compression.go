package container

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdDecoder, zstdErr
}

func decompress(c Compression, in []byte) ([]byte, error) {
	switch c.Type {
	case "", "raw":
		return in, nil
	case "gzip":
		var zr io.ReadCloser
		var err error
		if c.UseZlib {
			zr, err = zlib.NewReader(bytes.NewReader(in))
		} else {
			zr, err = gzip.NewReader(bytes.NewReader(in))
		}
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("can't read gzip data: %v", err)
		}
		return out, nil
	case "zstd":
		dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(in, nil)
	case "bzip2":
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(in)))
	default:
		return nil, fmt.Errorf("%w: n5 compression %q", ErrUnsupportedFormat, c.Type)
	}
}
