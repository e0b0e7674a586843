// Package source turns the layers handed over by the host into one resolved
// application source.
//
// A Source is a closed sum of three variants. Consumers switch on the
// concrete type:
//
//	switch s := src.(type) {
//	case source.LocalFile:
//	    // s.Path is the manifest on the container filesystem
//	case source.RegistryApplication:
//	    // locked app JSON was written, content is in the cache
//	case source.RegistryPackage:
//	    // s.Path is the single cached packaged component
//	}
package source

import "fmt"

// Source is a resolved application source. The set of implementations is
// closed: LocalFile, RegistryApplication and RegistryPackage.
type Source interface {
	fmt.Stringer
	isSource()
}

// LocalFile is a manifest on the container filesystem.
type LocalFile struct {
	Path string
}

// RegistryApplication is a locked app written from an OCI manifest layer
// whose content references resolve against the cache.
type RegistryApplication struct{}

// RegistryPackage is a single packaged component stored in the cache.
type RegistryPackage struct {
	Path string
}

func (LocalFile) isSource()           {}
func (RegistryApplication) isSource() {}
func (RegistryPackage) isSource()     {}

func (s LocalFile) String() string         { return "LocalFile(" + s.Path + ")" }
func (RegistryApplication) String() string { return "RegistryApplication" }
func (s RegistryPackage) String() string   { return "RegistryPackage(" + s.Path + ")" }
