package speech

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// CompressPayload 按 header 声明的方式压缩 payload
func CompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			_ = zw.Close()
			return nil, errors.Wrap(err, "gzip write")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Errorf("unsupported compression method: %d", method)
	}
}

// DecompressPayload 解压服务端 payload
func DecompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		return out, errors.Wrap(err, "gzip read")
	default:
		return nil, errors.Errorf("unsupported compression method: %d", method)
	}
}
