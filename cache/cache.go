// Package cache implements the content-addressed store that OCI layers are
// materialized into.
//
// Entries are keyed by digest and written once: a second write of the same
// digest keeps the existing file. Writes go through a temp file and an
// atomic rename, so concurrent writers of one digest never observe a
// partial entry. The cache has no eviction; it lives as long as the
// container filesystem it is rooted in.
package cache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wippyai/spin-shim/errors"
)

const (
	registryDir    = "registry"
	ociDir         = "oci"
	wasmDir        = "wasm"
	dataDir        = "data"
	manifestsDir   = "manifests"
	tmpDir         = "tmp"
	precompiledDir = "precompiled"
)

// Cache is a content-addressed directory tree.
type Cache struct {
	root string
}

// New creates (or reopens) a cache rooted at root.
func New(root string) (*Cache, error) {
	if root == "" {
		return nil, errors.InvalidInput(errors.PhaseCache, "cache root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.CacheIO(root, "resolve cache root", err)
	}
	c := &Cache{root: abs}
	for _, dir := range []string{c.wasmDir(), c.dataDir(), c.ManifestsDir(), c.tmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.CacheIO(dir, "create cache directory", err)
		}
	}
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// ManifestsDir returns the directory holding registry manifests.
func (c *Cache) ManifestsDir() string {
	return filepath.Join(c.root, registryDir, ociDir, manifestsDir)
}

// WasmPath returns where wasm content with digest d lives.
func (c *Cache) WasmPath(d digest.Digest) string {
	return filepath.Join(c.wasmDir(), safeName(d))
}

// DataPath returns where data content with digest d lives.
func (c *Cache) DataPath(d digest.Digest) string {
	return filepath.Join(c.dataDir(), safeName(d))
}

// HasWasm reports whether wasm content for d is present.
func (c *Cache) HasWasm(d digest.Digest) bool {
	return exists(c.WasmPath(d))
}

// HasData reports whether data content for d is present.
func (c *Cache) HasData(d digest.Digest) bool {
	return exists(c.DataPath(d))
}

// WriteWasm stores wasm bytes under d and returns the entry path.
func (c *Cache) WriteWasm(data []byte, d digest.Digest) (string, error) {
	if err := verify(data, d); err != nil {
		return "", err
	}
	return c.write(c.WasmPath(d), data)
}

// WriteData stores opaque bytes under d and returns the entry path.
func (c *Cache) WriteData(data []byte, d digest.Digest) (string, error) {
	if err := verify(data, d); err != nil {
		return "", err
	}
	return c.write(c.DataPath(d), data)
}

// CompilationDir returns a directory for compiled artifacts produced by an
// engine whose compatibility hash is compatHash.
func (c *Cache) CompilationDir(compatHash string) (string, error) {
	if compatHash == "" || strings.ContainsAny(compatHash, `/\`) || compatHash == "." || compatHash == ".." {
		return "", errors.InvalidInput(errors.PhaseCache, "invalid compatibility hash "+compatHash)
	}
	dir := filepath.Join(c.root, precompiledDir, compatHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.CacheIO(dir, "create compilation directory", err)
	}
	return dir, nil
}

func (c *Cache) write(finalPath string, data []byte) (string, error) {
	// Same digest implies same content; an existing entry is final.
	if exists(finalPath) {
		return finalPath, nil
	}

	tmpFile, err := os.CreateTemp(c.tmpDir(), "entry-*.tmp")
	if err != nil {
		return "", errors.CacheIO(c.tmpDir(), "create temp entry", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", errors.CacheIO(tmpPath, "write temp entry", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", errors.CacheIO(tmpPath, "close temp entry", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", errors.CacheIO(finalPath, "rename entry into place", err)
	}

	success = true
	return finalPath, nil
}

func (c *Cache) wasmDir() string {
	return filepath.Join(c.root, registryDir, ociDir, wasmDir)
}

func (c *Cache) dataDir() string {
	return filepath.Join(c.root, registryDir, ociDir, dataDir)
}

func (c *Cache) tmpDir() string {
	return filepath.Join(c.root, registryDir, tmpDir)
}

func verify(data []byte, d digest.Digest) error {
	if err := d.Validate(); err != nil {
		return errors.InvalidDigest(errors.PhaseCache, d.String(), err)
	}
	verifier := d.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return errors.New(errors.PhaseCache, errors.KindIO).
			Digest(d.String()).Detail("hash content").Cause(err).Build()
	}
	if !verifier.Verified() {
		return errors.DigestMismatch(d.String())
	}
	return nil
}

// safeName maps a digest to a file name: "sha256:ab.." becomes "sha256_ab..".
func safeName(d digest.Digest) string {
	return strings.ReplaceAll(d.String(), ":", "_")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

