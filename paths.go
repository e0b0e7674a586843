package spinshim

// Well-known locations inside the container filesystem.
const (
	ManifestFilePath  = "/spin.toml"
	LockedAppFilePath = "/spin.json"
	RuntimeConfigPath = "/runtime-config.toml"
	WorkingDir        = "/"
)

// Environment keys recognized by the shim.
const (
	EnvHTTPListenAddr     = "SPIN_HTTP_LISTEN_ADDR"
	EnvComponentsToRetain = "SPIN_COMPONENTS_TO_RETAIN"
	EnvMaxInstanceMemory  = "SPIN_MAX_INSTANCE_MEMORY"

	DefaultHTTPListenAddr = "0.0.0.0:80"
)

// Paths groups the well-known file locations so tests can relocate them.
type Paths struct {
	Manifest      string
	LockedApp     string
	RuntimeConfig string
	WorkingDir    string
}

// DefaultPaths returns the locations used inside a real container.
func DefaultPaths() Paths {
	return Paths{
		Manifest:      ManifestFilePath,
		LockedApp:     LockedAppFilePath,
		RuntimeConfig: RuntimeConfigPath,
		WorkingDir:    WorkingDir,
	}
}

// WithDefaults fills empty fields from DefaultPaths.
func (p Paths) WithDefaults() Paths {
	d := DefaultPaths()
	if p.Manifest == "" {
		p.Manifest = d.Manifest
	}
	if p.LockedApp == "" {
		p.LockedApp = d.LockedApp
	}
	if p.RuntimeConfig == "" {
		p.RuntimeConfig = d.RuntimeConfig
	}
	if p.WorkingDir == "" {
		p.WorkingDir = d.WorkingDir
	}
	return p
}
