package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/source"
)

const refNameAnnotation = "org.opencontainers.image.ref.name"

type descriptor struct {
	MediaType   string            `json:"mediaType"`
	Digest      digest.Digest     `json:"digest"`
	Size        int64             `json:"size"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

type imageIndex struct {
	SchemaVersion int          `json:"schemaVersion"`
	Manifests     []descriptor `json:"manifests"`
}

type imageManifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType"`
	Config        descriptor   `json:"config"`
	Layers        []descriptor `json:"layers"`
}

// readLayout loads the layers of one image from an OCI image layout
// directory. ref selects a manifest by its ref.name annotation; an empty
// ref requires the index to hold exactly one manifest.
//
// The image config is returned first when it is a layer kind the shim
// understands, since Spin images carry the locked app as their config.
func readLayout(dir, ref string) ([]spinshim.Layer, error) {
	var index imageIndex
	if err := readJSON(filepath.Join(dir, "index.json"), &index); err != nil {
		return nil, err
	}

	m, err := pickManifest(index.Manifests, ref)
	if err != nil {
		return nil, err
	}

	var manifest imageManifest
	data, err := readBlob(dir, m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", m.Digest, err)
	}

	var layers []spinshim.Layer
	descs := manifest.Layers
	if source.Classify(spinshim.Layer{MediaType: manifest.Config.MediaType}).Kind != source.KindUnknown {
		descs = append([]descriptor{manifest.Config}, descs...)
	}
	for _, d := range descs {
		data, err := readBlob(dir, d)
		if err != nil {
			return nil, err
		}
		layers = append(layers, spinshim.Layer{MediaType: d.MediaType, Digest: d.Digest, Data: data})
	}
	return layers, nil
}

func pickManifest(manifests []descriptor, ref string) (descriptor, error) {
	if ref == "" {
		if len(manifests) != 1 {
			return descriptor{}, fmt.Errorf("index holds %d manifests; select one with --ref", len(manifests))
		}
		return manifests[0], nil
	}
	for _, m := range manifests {
		if m.Annotations[refNameAnnotation] == ref {
			return m, nil
		}
	}
	return descriptor{}, fmt.Errorf("no manifest tagged %q", ref)
}

// readBlob reads and verifies the blob named by d.
func readBlob(dir string, d descriptor) ([]byte, error) {
	if err := d.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("descriptor digest %q: %w", d.Digest, err)
	}
	path := filepath.Join(dir, "blobs", d.Digest.Algorithm().String(), d.Digest.Encoded())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if d.Size > 0 && int64(len(data)) != d.Size {
		return nil, fmt.Errorf("blob %s is %d bytes, descriptor says %d", d.Digest, len(data), d.Size)
	}
	v := d.Digest.Verifier()
	v.Write(data)
	if !v.Verified() {
		return nil, fmt.Errorf("blob %s does not match its digest", d.Digest)
	}
	return data, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
