package cache

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	shimerrors "github.com/wippyai/spin-shim/errors"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_EmptyRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestWriteWasm_Idempotent(t *testing.T) {
	c := newCache(t)
	d := digest.FromBytes(wasmHeader)

	first, err := c.WriteWasm(wasmHeader, d)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := c.WriteWasm(wasmHeader, d)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if first != c.WasmPath(d) {
		t.Errorf("path = %q, want %q", first, c.WasmPath(d))
	}
	got, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, wasmHeader) {
		t.Errorf("content = %x, want %x", got, wasmHeader)
	}
	if !strings.HasPrefix(first, c.Root()) {
		t.Errorf("entry %q outside root %q", first, c.Root())
	}
}

func TestWriteData_ConcurrentSameDigest(t *testing.T) {
	c := newCache(t)
	data := bytes.Repeat([]byte("static asset "), 4096)
	d := digest.FromBytes(data)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.WriteData(data, d); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write: %v", err)
	}

	got, err := os.ReadFile(c.DataPath(d))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("concurrent writes corrupted the entry")
	}

	leftovers, _ := os.ReadDir(c.tmpDir())
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %d", len(leftovers))
	}
}

func TestWrite_DigestMismatch(t *testing.T) {
	c := newCache(t)
	d := digest.FromBytes([]byte("something else"))

	_, err := c.WriteWasm(wasmHeader, d)
	if !errors.Is(err, shimerrors.ErrDigestMismatch) {
		t.Fatalf("err = %v, want digest mismatch", err)
	}
	if c.HasWasm(d) {
		t.Error("mismatched content must not be stored")
	}
}

func TestWrite_InvalidDigest(t *testing.T) {
	c := newCache(t)
	_, err := c.WriteData([]byte("x"), digest.Digest("sha256:nothex"))
	var se *shimerrors.Error
	if !errors.As(err, &se) || se.Kind != shimerrors.KindInvalidDigest {
		t.Fatalf("err = %v, want invalid digest", err)
	}
}

func TestWasmAndDataPathsAreDistinct(t *testing.T) {
	c := newCache(t)
	d := digest.FromBytes(wasmHeader)
	if c.WasmPath(d) == c.DataPath(d) {
		t.Fatal("wasm and data entries must not share a path")
	}
	if filepath.Base(c.WasmPath(d)) != "sha256_"+d.Encoded() {
		t.Errorf("unexpected entry name %q", filepath.Base(c.WasmPath(d)))
	}
}

func TestCompilationDir(t *testing.T) {
	c := newCache(t)
	dir, err := c.CompilationDir("abc123")
	if err != nil {
		t.Fatalf("CompilationDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("compilation dir not created: %v", err)
	}
	for _, bad := range []string{"", "..", "a/b"} {
		if _, err := c.CompilationDir(bad); err == nil {
			t.Errorf("CompilationDir(%q) should fail", bad)
		}
	}
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "static/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUnpackArchive(t *testing.T) {
	files := map[string]string{
		"static/index.html": "<h1>hi</h1>",
		"static/app.js":     "console.log(1)",
	}
	raw := buildTar(t, files)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(raw)
	zw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll(raw, nil)
	enc.Close()

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"plain tar", raw, CompressionNone},
		{"gzip", gz.Bytes(), CompressionGzip},
		{"zstd", zst, CompressionZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCompression(tt.data); got != tt.want {
				t.Errorf("DetectCompression = %v, want %v", got, tt.want)
			}

			c := newCache(t)
			entries, err := c.UnpackArchive(tt.data, digest.FromBytes(tt.data))
			if err != nil {
				t.Fatalf("UnpackArchive: %v", err)
			}
			if len(entries) != len(files) {
				t.Fatalf("entries = %d, want %d", len(entries), len(files))
			}
			for _, e := range entries {
				body, ok := files[e.Name]
				if !ok {
					t.Errorf("unexpected entry %q", e.Name)
					continue
				}
				if e.Digest != digest.FromString(body) {
					t.Errorf("%s: digest = %s", e.Name, e.Digest)
				}
				got, err := os.ReadFile(c.DataPath(e.Digest))
				if err != nil || string(got) != body {
					t.Errorf("%s: cached content = %q, %v", e.Name, got, err)
				}
			}
		})
	}
}

func TestCleanEntryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"static/index.html", "static/index.html", true},
		{"./static/app.js", "static/app.js", true},
		{"/abs/file.txt", "abs/file.txt", true},
		{"static/../top.txt", "top.txt", true},
		{"../x", "", false},
		{"static/../../x", "", false},
		{"/../etc/passwd", "", false},
		{"..", "", false},
		{"./", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanEntryName(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("cleanEntryName(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUnpackArchive_SkipsTraversal(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"static/ok.txt":     "ok",
		"../escape.txt":     "escape",
		"static/../../x.sh": "x",
	})
	c := newCache(t)
	entries, err := c.UnpackArchive(raw, digest.FromBytes(raw))
	if err != nil {
		t.Fatalf("UnpackArchive: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "static/ok.txt" {
		t.Fatalf("entries = %+v, want only static/ok.txt", entries)
	}
	if _, err := os.Stat(c.DataPath(digest.FromString("escape"))); !os.IsNotExist(err) {
		t.Errorf("traversal entry cached: %v", err)
	}
}

func TestUnpackArchive_Corrupt(t *testing.T) {
	c := newCache(t)
	data := append([]byte{0x1f, 0x8b}, []byte("not really gzip")...)
	if _, err := c.UnpackArchive(data, digest.FromBytes(data)); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}
