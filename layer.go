package spinshim

import (
	"github.com/opencontainers/go-digest"
)

// Layer media types understood by the shim. These strings are shared with
// registry producers and must not change.
const (
	// MediaTypeWasm describes a layer holding a core wasm module or component.
	MediaTypeWasm = "application/vnd.wasm.content.layer.v1+wasm"

	// MediaTypeData describes a layer holding an opaque static file.
	MediaTypeData = "application/vnd.wasm.content.layer.v1+data"

	// MediaTypeSpinConfig describes the locked application JSON.
	MediaTypeSpinConfig = "application/vnd.fermyon.spin.application.v1+config"

	// MediaTypeWasmPackage describes a single packaged component (wkg).
	MediaTypeWasmPackage = "application/wasm"

	// MediaTypeArchive describes a tar archive of static files.
	MediaTypeArchive = "application/vnd.wasm.content.bundle.v1.tar+gzip"
)

// SupportedLayerTypes lists the media types the shim asks the host to pull.
func SupportedLayerTypes() []string {
	return []string{
		MediaTypeWasm,
		MediaTypeData,
		MediaTypeSpinConfig,
		MediaTypeWasmPackage,
		MediaTypeArchive,
	}
}

// Layer is one content layer handed over by the host. Layers are immutable.
type Layer struct {
	MediaType string
	Digest    digest.Digest
	Data      []byte
}

// Invocation is everything the host supplies for one container start.
type Invocation struct {
	// Env holds the container environment. It is passed down explicitly
	// and never copied into the process environment.
	Env map[string]string

	// File marks a local-file source when non-empty. The value is only a
	// hint; the manifest is always read from Paths.Manifest.
	File     string
	Hostname string
	Layers   []Layer
	Args     []string
}

// IsFile reports whether the invocation names a local-file source.
func (inv Invocation) IsFile() bool {
	return inv.File != ""
}
