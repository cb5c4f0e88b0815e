// Package compression implements the batch attributes compression codes
// (spec §3 "Log record (on disk)": attributes bits 0-1) backed by the
// third-party codecs the example pack's Kafka clients depend on.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is the 2-bit compression code carried in a batch header's
// attributes field.
type Algorithm byte

const (
	None Algorithm = iota
	Gzip
	Snappy
	Lz4
	Zstd
)

// Mask isolates the compression bits from the rest of the attributes field.
// Zstd's code (4) does not fit in these two bits: the topic and partition
// layers mask the configured code with it, so a topic configured for Zstd
// stores its batches uncompressed (None).
const Mask = 0x03

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Lz4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Compress encodes body using the given algorithm.
func Compress(alg Algorithm, body []byte) ([]byte, error) {
	switch alg {
	case None:
		return body, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, body), nil
	case Lz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("compression: unknown algorithm %d", alg)
	}
}

// Decompress reverses Compress.
func Decompress(alg Algorithm, body []byte) ([]byte, error) {
	switch alg {
	case None:
		return body, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Snappy:
		return snappy.Decode(nil, body)
	case Lz4:
		r := lz4.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("compression: unknown algorithm %d", alg)
	}
}
