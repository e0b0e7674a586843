package cache

import (
	"archive/tar"
	"bufio"
	"bytes"
	stderrors "errors"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/wippyai/spin-shim/errors"
)

// Compression identifies how an archive layer is encoded.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// String returns the human-readable name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression sniffs the leading bytes of an archive layer.
func DetectCompression(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// ArchiveEntry is one regular file found in an archive layer.
type ArchiveEntry struct {
	Name   string
	Digest digest.Digest
	Path   string
	Size   int64
}

// UnpackArchive stores every regular file of an archive layer as a data
// entry keyed by the sha256 of its contents. layerDigest only labels errors.
// Entry names are cleaned relative to the archive root; entries that would
// land outside it are skipped.
func (c *Cache) UnpackArchive(data []byte, layerDigest digest.Digest) ([]ArchiveEntry, error) {
	r, closeFn, err := decompress(data)
	if err != nil {
		return nil, errors.New(errors.PhaseCache, errors.KindInvalidData).
			Digest(layerDigest.String()).Detail("open archive layer").Cause(err).Build()
	}
	defer closeFn()

	tr := tar.NewReader(r)
	var entries []ArchiveEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if stderrors.Is(err, tar.ErrInsecurePath) {
			continue
		}
		if err != nil {
			return entries, errors.New(errors.PhaseCache, errors.KindInvalidData).
				Digest(layerDigest.String()).Detail("read archive layer").Cause(err).Build()
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, ok := cleanEntryName(hdr.Name)
		if !ok {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return entries, errors.New(errors.PhaseCache, errors.KindInvalidData).
				Digest(layerDigest.String()).Detail("read archive entry %s", name).Cause(err).Build()
		}

		d := digest.Canonical.FromBytes(content)
		p, err := c.WriteData(content, d)
		if err != nil {
			return entries, err
		}
		entries = append(entries, ArchiveEntry{Name: name, Digest: d, Path: p, Size: int64(len(content))})
	}
	return entries, nil
}

func decompress(data []byte) (io.Reader, func(), error) {
	src := bufio.NewReader(bytes.NewReader(data))
	switch DetectCompression(data) {
	case CompressionGzip:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return src, func() {}, nil
	}
}

// cleanEntryName normalizes an entry name relative to the archive root.
// Names that resolve outside the root are rejected.
func cleanEntryName(name string) (string, bool) {
	name = path.Clean(strings.TrimLeft(name, "/"))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", false
	}
	return name, true
}
