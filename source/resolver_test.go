package source

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/cache"
	shimerrors "github.com/wippyai/spin-shim/errors"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func makeLayer(mediaType string, data []byte) spinshim.Layer {
	return spinshim.Layer{MediaType: mediaType, Digest: digest.FromBytes(data), Data: data}
}

type fixture struct {
	cache    *cache.Cache
	paths    spinshim.Paths
	resolver *Resolver
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	c, err := cache.New(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	paths := spinshim.Paths{
		Manifest:  filepath.Join(root, "spin.toml"),
		LockedApp: filepath.Join(root, "spin.json"),
	}
	return &fixture{cache: c, paths: paths, resolver: NewResolver(c, paths, nil), root: root}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mediaType string
		want      Kind
	}{
		{spinshim.MediaTypeSpinConfig, KindManifest},
		{spinshim.MediaTypeWasm, KindWasmModule},
		{spinshim.MediaTypeWasmPackage, KindWasmPackage},
		{spinshim.MediaTypeData, KindDataBlob},
		{spinshim.MediaTypeArchive, KindArchive},
		{"application/vnd.oci.image.layer.v1.tar", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String()+"/"+tt.mediaType, func(t *testing.T) {
			got := Classify(spinshim.Layer{MediaType: tt.mediaType})
			if got.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want)
			}
			if got.MediaType != tt.mediaType {
				t.Errorf("MediaType = %q, want %q", got.MediaType, tt.mediaType)
			}
		})
	}
}

func TestResolve_FileSourceIgnoresHint(t *testing.T) {
	f := newFixture(t)
	src, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{File: "/some/module.wasm"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	lf, ok := src.(LocalFile)
	if !ok {
		t.Fatalf("source = %v, want LocalFile", src)
	}
	if lf.Path != f.paths.Manifest {
		t.Errorf("Path = %q, want %q", lf.Path, f.paths.Manifest)
	}
}

func TestResolve_EmptyLayers(t *testing.T) {
	f := newFixture(t)
	src, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := src.(RegistryApplication); !ok {
		t.Fatalf("source = %v, want RegistryApplication", src)
	}
}

func TestResolve_UnknownLayerSkipped(t *testing.T) {
	f := newFixture(t)
	layer := makeLayer("application/unknown+type", []byte("ignored"))

	src, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{Layers: []spinshim.Layer{layer}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := src.(RegistryApplication); !ok {
		t.Fatalf("source = %v, want RegistryApplication", src)
	}
	if f.cache.HasWasm(layer.Digest) || f.cache.HasData(layer.Digest) {
		t.Error("unknown layer must not be cached")
	}
}

func TestResolve_WasmAndDataLayers(t *testing.T) {
	f := newFixture(t)
	wasm := makeLayer(spinshim.MediaTypeWasm, wasmHeader)
	data := makeLayer(spinshim.MediaTypeData, []byte("hello"))
	manifest := makeLayer(spinshim.MediaTypeSpinConfig, []byte(`{"spin_lock_version":1}`))

	src, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{
		Layers: []spinshim.Layer{manifest, wasm, data},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := src.(RegistryApplication); !ok {
		t.Fatalf("source = %v, want RegistryApplication", src)
	}
	if !f.cache.HasWasm(wasm.Digest) {
		t.Error("wasm layer not cached")
	}
	if !f.cache.HasData(data.Digest) {
		t.Error("data layer not cached")
	}
	written, err := os.ReadFile(f.paths.LockedApp)
	if err != nil {
		t.Fatalf("locked app not written: %v", err)
	}
	if !bytes.Equal(written, manifest.Data) {
		t.Errorf("locked app = %q, want %q", written, manifest.Data)
	}
}

func TestResolve_ManifestOverwritten(t *testing.T) {
	f := newFixture(t)
	first := makeLayer(spinshim.MediaTypeSpinConfig, []byte(`{"first":true}`))
	second := makeLayer(spinshim.MediaTypeSpinConfig, []byte(`{"second":true}`))

	if _, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{Layers: []spinshim.Layer{first, second}}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	written, _ := os.ReadFile(f.paths.LockedApp)
	if string(written) != `{"second":true}` {
		t.Errorf("locked app = %q, want the last manifest layer", written)
	}
}

func TestResolve_SinglePackage(t *testing.T) {
	f := newFixture(t)
	pkg := makeLayer(spinshim.MediaTypeWasmPackage, wasmHeader)
	other := makeLayer(spinshim.MediaTypeData, []byte("extra"))

	src, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{Layers: []spinshim.Layer{other, pkg}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rp, ok := src.(RegistryPackage)
	if !ok {
		t.Fatalf("source = %v, want RegistryPackage", src)
	}
	if rp.Path != f.cache.WasmPath(pkg.Digest) {
		t.Errorf("Path = %q, want %q", rp.Path, f.cache.WasmPath(pkg.Digest))
	}
	if !strings.HasPrefix(rp.Path, f.cache.Root()) {
		t.Errorf("package %q not inside cache %q", rp.Path, f.cache.Root())
	}
}

func TestResolve_MultiplePackagesFail(t *testing.T) {
	for _, n := range []int{2, 3} {
		f := newFixture(t)
		var layers []spinshim.Layer
		for i := 0; i < n; i++ {
			layers = append(layers, makeLayer(spinshim.MediaTypeWasmPackage, append(append([]byte{}, wasmHeader...), byte(i))))
		}

		_, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{Layers: layers})
		if !errors.Is(err, shimerrors.ErrInvalidSource) {
			t.Fatalf("n=%d: err = %v, want invalid source", n, err)
		}
		var se *shimerrors.Error
		if !errors.As(err, &se) || se.Value != n {
			t.Errorf("n=%d: error should carry the count, got %+v", n, se)
		}
		if !strings.Contains(err.Error(), "found "+string(rune('0'+n))) {
			t.Errorf("n=%d: message should name the count: %v", n, err)
		}
	}
}

func TestResolve_ArchiveLayer(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("asset")
	tw.WriteHeader(&tar.Header{Name: "a.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))})
	tw.Write(body)
	tw.Close()

	layer := makeLayer(spinshim.MediaTypeArchive, buf.Bytes())
	if _, err := f.resolver.Resolve(context.Background(), spinshim.Invocation{Layers: []spinshim.Layer{layer}}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !f.cache.HasData(digest.FromBytes(body)) {
		t.Error("archive entry not cached by its own digest")
	}
}

func TestResolve_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, spinshim.Invocation{Layers: []spinshim.Layer{makeLayer(spinshim.MediaTypeWasm, wasmHeader)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSourceString(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{LocalFile{Path: "/spin.toml"}, "LocalFile(/spin.toml)"},
		{RegistryApplication{}, "RegistryApplication"},
		{RegistryPackage{Path: "/c/x"}, "RegistryPackage(/c/x)"},
	}
	for _, tt := range tests {
		if got := tt.src.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
