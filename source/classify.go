package source

import (
	spinshim "github.com/wippyai/spin-shim"
)

// Kind is the role a layer plays in building an application.
type Kind int

const (
	KindUnknown Kind = iota
	KindManifest
	KindWasmModule
	KindWasmPackage
	KindDataBlob
	KindArchive
)

// String returns the human-readable name of a kind.
func (k Kind) String() string {
	switch k {
	case KindManifest:
		return "manifest"
	case KindWasmModule:
		return "wasm-module"
	case KindWasmPackage:
		return "wasm-package"
	case KindDataBlob:
		return "data"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Classification is the result of classifying one layer. MediaType is the
// tag that produced Kind.
type Classification struct {
	MediaType string
	Kind      Kind
}

// Classify maps a layer to its role using only the declared media type.
// Unrecognized media types classify as KindUnknown.
func Classify(layer spinshim.Layer) Classification {
	return Classification{MediaType: layer.MediaType, Kind: classifyMediaType(layer.MediaType)}
}

func classifyMediaType(mediaType string) Kind {
	switch mediaType {
	case spinshim.MediaTypeSpinConfig:
		return KindManifest
	case spinshim.MediaTypeWasm:
		return KindWasmModule
	case spinshim.MediaTypeWasmPackage:
		return KindWasmPackage
	case spinshim.MediaTypeData:
		return KindDataBlob
	case spinshim.MediaTypeArchive:
		return KindArchive
	default:
		return KindUnknown
	}
}

// CountKind returns how many layers classify as k.
func CountKind(layers []spinshim.Layer, k Kind) int {
	n := 0
	for _, l := range layers {
		if classifyMediaType(l.MediaType) == k {
			n++
		}
	}
	return n
}
