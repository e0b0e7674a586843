package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/cache"
	"github.com/wippyai/spin-shim/errors"
)

// Resolver classifies invocation layers and materializes them into the
// cache and the locked app path.
type Resolver struct {
	cache  *cache.Cache
	logger *zap.Logger
	paths  spinshim.Paths
}

// NewResolver creates a resolver writing into c. A nil logger disables
// logging.
func NewResolver(c *cache.Cache, paths spinshim.Paths, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cache: c, paths: paths.WithDefaults(), logger: logger}
}

// Resolve produces the Source for inv.
//
// A local-file invocation resolves to the well-known manifest path whatever
// path it names. Otherwise layers are processed in order: manifests are
// written to the locked app path, wasm and data layers go to the cache and
// archives are unpacked into it. A packaged component layer short-circuits
// to RegistryPackage when it is the only one of its kind; more than one is
// an error naming the count.
func (r *Resolver) Resolve(ctx context.Context, inv spinshim.Invocation) (Source, error) {
	if inv.IsFile() {
		r.logger.Debug("local file source",
			zap.String("hint", inv.File),
			zap.String("manifest", r.paths.Manifest))
		return LocalFile{Path: r.paths.Manifest}, nil
	}

	r.logger.Info("configuring oci application", zap.Int("layers", len(inv.Layers)))

	for i, layer := range inv.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		class := Classify(layer)
		log := r.logger.With(
			zap.Int("index", i),
			zap.String("media_type", class.MediaType),
			zap.Stringer("digest", layer.Digest),
			zap.Int("size", len(layer.Data)))

		switch class.Kind {
		case KindManifest:
			log.Info("writing locked app", zap.String("path", r.paths.LockedApp))
			if err := writeFile(r.paths.LockedApp, layer.Data); err != nil {
				return nil, err
			}

		case KindWasmModule:
			log.Info("writing wasm layer to cache")
			if _, err := r.cache.WriteWasm(layer.Data, layer.Digest); err != nil {
				return nil, err
			}

		case KindDataBlob:
			log.Debug("writing data layer to cache")
			if _, err := r.cache.WriteData(layer.Data, layer.Digest); err != nil {
				return nil, err
			}

		case KindWasmPackage:
			if n := CountKind(inv.Layers, KindWasmPackage); n != 1 {
				return nil, errors.InvalidSource(
					fmt.Sprintf("expected a single %s layer in OCI package, found %d", spinshim.MediaTypeWasmPackage, n), n)
			}
			log.Info("writing wasm package to cache")
			path, err := r.cache.WriteWasm(layer.Data, layer.Digest)
			if err != nil {
				return nil, err
			}
			return RegistryPackage{Path: path}, nil

		case KindArchive:
			log.Debug("unpacking archive layer into cache")
			entries, err := r.cache.UnpackArchive(layer.Data, layer.Digest)
			if err != nil {
				return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
					Digest(layer.Digest.String()).Detail("unpack archive layer").Cause(err).Build()
			}
			log.Debug("archive unpacked", zap.Int("files", len(entries)))

		default:
			log.Debug("skipping layer with unknown media type")
		}
	}

	return RegistryApplication{}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(errors.PhaseResolve, errors.KindIO).
			Path(path).Detail("create locked app directory").Cause(err).Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.PhaseResolve, errors.KindIO).
			Path(path).Detail("write locked app").Cause(err).Build()
	}
	return nil
}
