package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"verhist/internal/history"
)

// magic starts every compressed blob and is followed by a one byte codec tag.
const magic = "\x89VHZ"

const (
	tagZstd byte = 1
	tagLZ4  byte = 2
)

// CompressedStore compresses blobs before handing them to the wrapped store.
// Each stored blob starts with magic and a codec tag, so blobs written with
// another codec remain readable. Blobs without the header were written
// uncompressed and are returned as stored.
type CompressedStore struct {
	history.BlobStore
	codec   byte
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressedStore wraps inner with the named codec: "zstd" or "lz4".
func NewCompressedStore(inner history.BlobStore, codec string) (*CompressedStore, error) {
	s := &CompressedStore{BlobStore: inner}
	switch codec {
	case "zstd":
		s.codec = tagZstd
	case "lz4":
		s.codec = tagLZ4
	default:
		return nil, fmt.Errorf("unknown compression: %s", codec)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	s.encoder = enc
	s.decoder = dec
	return s, nil
}

func (s *CompressedStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(s.codec)
	switch s.codec {
	case tagZstd:
		buf.Write(s.encoder.EncodeAll(data, nil))
	case tagLZ4:
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("lz4 compress: %w", err)
		}
	}
	return s.BlobStore.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
}

func (s *CompressedStore) Get(ctx context.Context, key string, w io.Writer) error {
	var buf bytes.Buffer
	if err := s.BlobStore.Get(ctx, key, &buf); err != nil {
		return err
	}
	stored := buf.Bytes()
	if len(stored) <= len(magic) || !bytes.HasPrefix(stored, []byte(magic)) {
		_, err := w.Write(stored)
		return err
	}

	tag, payload := stored[len(magic)], stored[len(magic)+1:]
	switch tag {
	case tagZstd:
		out, err := s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("zstd decompress %s: %w", key, err)
		}
		_, err = w.Write(out)
		return err
	case tagLZ4:
		if _, err := io.Copy(w, lz4.NewReader(bytes.NewReader(payload))); err != nil {
			return fmt.Errorf("lz4 decompress %s: %w", key, err)
		}
		return nil
	default:
		return fmt.Errorf("blob %s has unknown codec tag %d", key, tag)
	}
}

var _ history.BlobStore = (*CompressedStore)(nil)
