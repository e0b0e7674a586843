// containerd-shim-spin runs Spin applications from an OCI image layout or a
// local spin.toml, the way the containerd shim does for a container start.
//
// Usage:
//
//	containerd-shim-spin run --layout ./image [-- args...]
//	containerd-shim-spin run --file ./spin.toml
//	containerd-shim-spin inspect --layout ./image [-i | --json]
//	containerd-shim-spin precompile --layout ./image
//	containerd-shim-spin version
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/config"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/shim"
	"github.com/wippyai/spin-shim/trigger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type command struct {
	run   func(ctx context.Context, args []string) (int, error)
	usage string
}

var commands = map[string]command{
	"run":        {run: runCommand, usage: "run an application until its first trigger exits"},
	"inspect":    {run: inspectCommand, usage: "print the resolved application (-i for an interactive browser)"},
	"precompile": {run: precompileCommand, usage: "compile wasm layers into the cache ahead of time"},
	"version":    {run: versionCommand, usage: "print version and engine compatibility hash"},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	code, err := cmd.run(ctx, os.Args[2:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: containerd-shim-spin <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].usage)
	}
}

// sourceFlags select the application and where the shim keeps its state.
type sourceFlags struct {
	layout   string
	ref      string
	file     string
	cacheDir string
	stateDir string
	hostname string
	logLevel string
	env      []string
}

func (f *sourceFlags) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.layout, "layout", "", "OCI image layout directory holding the application image")
	fs.StringVar(&f.ref, "ref", "", "image reference inside the layout (org.opencontainers.image.ref.name)")
	fs.StringVar(&f.file, "file", "", "local spin.toml to run instead of an image")
	fs.StringVar(&f.cacheDir, "cache-dir", shim.DefaultCacheDir, "content cache directory")
	fs.StringVar(&f.stateDir, "state-dir", spinshim.WorkingDir, "directory holding spin.json and runtime-config.toml")
	fs.StringVar(&f.hostname, "hostname", "", "instance hostname (default: the host name)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringArrayVarP(&f.env, "env", "e", nil, "container environment entry KEY=VALUE (repeatable)")
}

func (f *sourceFlags) paths() spinshim.Paths {
	p := spinshim.Paths{
		Manifest:      filepath.Join(f.stateDir, "spin.toml"),
		LockedApp:     filepath.Join(f.stateDir, "spin.json"),
		RuntimeConfig: filepath.Join(f.stateDir, "runtime-config.toml"),
		WorkingDir:    f.stateDir,
	}
	if f.file != "" {
		p.Manifest = f.file
	}
	return p
}

// invocation builds what the host would hand the shim. The process
// environment is the container environment; --env entries override it.
func (f *sourceFlags) invocation(args []string) (spinshim.Invocation, error) {
	if (f.layout == "") == (f.file == "") {
		return spinshim.Invocation{}, fmt.Errorf("exactly one of --layout or --file is required")
	}

	env := config.ParseEnvList(os.Environ())
	for k, v := range config.ParseEnvList(f.env) {
		env[k] = v
	}

	hostname := f.hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	inv := spinshim.Invocation{Env: env, Hostname: hostname, Args: args, File: f.file}
	if f.layout != "" {
		layers, err := readLayout(f.layout, f.ref)
		if err != nil {
			return spinshim.Invocation{}, fmt.Errorf("read image layout: %w", err)
		}
		inv.Layers = layers
	}
	return inv, nil
}

func (f *sourceFlags) newShim(logger *zap.Logger) (*shim.Shim, error) {
	return shim.New(shim.Options{
		CacheDir: f.cacheDir,
		Paths:    f.paths(),
		Logger:   logger,
	})
}

// newLogger writes human-readable logs to a terminal and JSON otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func runCommand(ctx context.Context, args []string) (int, error) {
	var sf sourceFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	sf.addFlags(fs)
	if ok, err := parseFlags(fs, args); !ok {
		return 0, err
	}

	logger, err := newLogger(sf.logLevel)
	if err != nil {
		return 1, err
	}
	defer logger.Sync()

	inv, err := sf.invocation(fs.Args())
	if err != nil {
		return 1, err
	}
	s, err := sf.newShim(logger)
	if err != nil {
		return 1, err
	}
	return s.Run(ctx, inv)
}

func inspectCommand(ctx context.Context, args []string) (int, error) {
	var sf sourceFlags
	var interactive, asJSON bool
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	sf.addFlags(fs)
	fs.BoolVarP(&interactive, "interactive", "i", false, "browse components in a terminal UI and run them")
	fs.BoolVar(&asJSON, "json", false, "print the resolved locked app as JSON")
	if ok, err := parseFlags(fs, args); !ok {
		return 0, err
	}

	logger := zap.NewNop()
	inv, err := sf.invocation(fs.Args())
	if err != nil {
		return 1, err
	}
	s, err := sf.newShim(logger)
	if err != nil {
		return 1, err
	}
	a, err := s.LoadApp(ctx, inv)
	if err != nil {
		return 1, err
	}

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return 1, fmt.Errorf("interactive mode needs a terminal")
		}
		return 0, runInteractive(a, inv.Env)
	}
	if asJSON {
		return 0, printAppJSON(os.Stdout, a)
	}
	printApp(os.Stdout, a)
	return 0, nil
}

// printAppJSON writes a as locked app JSON, with inline and cached content
// references as the loader resolved them.
func printAppJSON(w io.Writer, a *app.App) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func precompileCommand(ctx context.Context, args []string) (int, error) {
	var sf sourceFlags
	fs := pflag.NewFlagSet("precompile", pflag.ContinueOnError)
	sf.addFlags(fs)
	if ok, err := parseFlags(fs, args); !ok {
		return 0, err
	}
	if sf.layout == "" {
		return 1, fmt.Errorf("--layout is required")
	}

	logger, err := newLogger(sf.logLevel)
	if err != nil {
		return 1, err
	}
	defer logger.Sync()

	layers, err := readLayout(sf.layout, sf.ref)
	if err != nil {
		return 1, err
	}
	s, err := sf.newShim(logger)
	if err != nil {
		return 1, err
	}
	done, err := s.Precompile(ctx, layers)
	if err != nil {
		return 1, err
	}
	for i, layer := range layers {
		status := "skipped"
		if done[i] {
			status = "compiled"
		}
		fmt.Printf("%s  %-8s  %s\n", layer.Digest, status, layer.MediaType)
	}
	return 0, nil
}

func versionCommand(context.Context, []string) (int, error) {
	fmt.Printf("containerd-shim-spin %s\n", version)
	fmt.Printf("wazero:        %s\n", engine.WazeroVersion())
	fmt.Printf("features:      %s\n", engine.Features)
	fmt.Printf("compatibility: %s\n", engine.CompatibilityHash())
	fmt.Printf("triggers:      %s\n", strings.Join(trigger.Supported(), ", "))
	return 0, nil
}

// printApp writes a plain summary of a to w.
func printApp(w io.Writer, a *app.App) {
	fmt.Fprintf(w, "Application: %s\n", a.Name())
	if len(a.Variables) > 0 {
		names := make([]string, 0, len(a.Variables))
		for name := range a.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "\nVariables:\n")
		for _, name := range names {
			v := a.Variables[name]
			switch {
			case v.Required():
				fmt.Fprintf(w, "  %s (required)\n", name)
			case v.Secret:
				fmt.Fprintf(w, "  %s = <secret>\n", name)
			default:
				fmt.Fprintf(w, "  %s = %q\n", name, *v.Default)
			}
		}
	}

	fmt.Fprintf(w, "\nTriggers:\n")
	for _, t := range a.Triggers {
		fmt.Fprintf(w, "  %-8s %-24s -> %s\n", t.TriggerType, t.ID, t.ComponentID())
	}

	fmt.Fprintf(w, "\nComponents:\n")
	for _, c := range a.Components {
		fmt.Fprintf(w, "  %s\n", c.ID)
		fmt.Fprintf(w, "    source: %s\n", describeSource(c.Source.Content))
		for _, f := range c.Files {
			fmt.Fprintf(w, "    file:   %s <- %s\n", f.Path, describeSource(f.Content))
		}
		if hosts := c.AllowedOutboundHosts(); len(hosts) > 0 {
			fmt.Fprintf(w, "    allowed_outbound_hosts: %s\n", strings.Join(hosts, ", "))
		}
	}
}

func describeSource(ref app.ContentRef) string {
	switch {
	case len(ref.Inline) > 0:
		return fmt.Sprintf("inline (%d bytes)", len(ref.Inline))
	case ref.Source != "":
		return ref.Source
	case ref.Digest != "":
		return ref.Digest
	default:
		return "-"
	}
}
