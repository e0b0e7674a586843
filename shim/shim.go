package shim

import (
	"context"
	stderrors "errors"
	"io"
	"os"

	"go.uber.org/zap"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/cache"
	"github.com/wippyai/spin-shim/config"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/source"
	"github.com/wippyai/spin-shim/trigger"
	"github.com/wippyai/spin-shim/trigger/commandtrigger"
	"github.com/wippyai/spin-shim/trigger/httptrigger"
	"github.com/wippyai/spin-shim/trigger/mqtttrigger"
	"github.com/wippyai/spin-shim/trigger/redistrigger"
	"github.com/wippyai/spin-shim/trigger/sqstrigger"
)

// DefaultCacheDir is the cache root used inside a container.
const DefaultCacheDir = "/.spin-cache"

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Options configures a Shim. Zero values select container defaults.
type Options struct {
	Logger   *zap.Logger
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	CacheDir string
	Paths    spinshim.Paths

	// Triggers replaces the built-in executors. Tests use it to inject
	// fakes.
	Triggers []trigger.Trigger
}

// Shim runs Spin applications for the host container runtime.
type Shim struct {
	cache    *cache.Cache
	logger   *zap.Logger
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	triggers []trigger.Trigger
	paths    spinshim.Paths
}

// New opens the cache and prepares the trigger executors.
func New(opts Options) (*Shim, error) {
	if opts.CacheDir == "" {
		opts.CacheDir = DefaultCacheDir
	}
	c, err := cache.New(opts.CacheDir)
	if err != nil {
		return nil, err
	}

	s := &Shim{
		cache:    c,
		logger:   opts.Logger,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		triggers: opts.Triggers,
		paths:    opts.Paths.WithDefaults(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.triggers == nil {
		s.triggers = DefaultTriggers()
	}
	engine.SetLogger(s.logger.Named("engine"))
	return s, nil
}

// DefaultTriggers returns one executor per supported trigger type.
func DefaultTriggers() []trigger.Trigger {
	return []trigger.Trigger{
		httptrigger.New(),
		redistrigger.New(),
		mqtttrigger.New(),
		sqstrigger.New(),
		commandtrigger.New(),
	}
}

// Cache returns the shim's content cache.
func (s *Shim) Cache() *cache.Cache {
	return s.cache
}

// SupportedLayerTypes lists the layer media types the host should pull.
func (s *Shim) SupportedLayerTypes() []string {
	return spinshim.SupportedLayerTypes()
}

// Run executes one invocation and returns the process exit code.
//
// Cancellation of ctx at any point is a clean shutdown: (0, nil). Any other
// failure returns (1, err).
func (s *Shim) Run(ctx context.Context, inv spinshim.Invocation) (int, error) {
	err := s.run(ctx, inv)
	switch {
	case err == nil:
		return ExitOK, nil
	case ctx.Err() != nil:
		s.logger.Info("shutting down", zap.NamedError("reason", ctx.Err()))
		return ExitOK, nil
	case stderrors.Is(err, context.Canceled):
		return ExitOK, nil
	default:
		s.logger.Error("application failed", zap.Error(err))
		return ExitFailure, err
	}
}

func (s *Shim) run(ctx context.Context, inv spinshim.Invocation) error {
	cfg := config.FromInvocation(inv, s.paths)
	log := s.logger
	if cfg.Hostname != "" {
		log = log.With(zap.String("hostname", cfg.Hostname))
	}
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	rtc, err := config.LoadRuntimeConfig(cfg.Paths.RuntimeConfig)
	if err != nil {
		return err
	}
	cfg.Runtime = rtc
	if rtc != nil && len(rtc.Undecoded) > 0 {
		log.Warn("runtime config sections not supported", zap.Strings("sections", rtc.Undecoded))
	}

	a, err := s.loadApp(ctx, inv, cfg, log)
	if err != nil {
		return err
	}

	prefixes, ignored := cfg.Runtime.VariablePrefixes()
	for _, msg := range ignored {
		log.Warn("ignoring " + msg)
	}
	vars, err := app.ResolveVariables(a, cfg.Env, prefixes)
	if err != nil {
		return err
	}

	set, err := trigger.Select(a)
	if err != nil {
		return err
	}
	log.Info("launching application",
		zap.String("app", a.Name()),
		zap.Strings("triggers", set.Sorted()))

	eng, err := s.newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	components := trigger.NewComponentLoader(eng, a, vars, s.stderr, log)
	defer components.Close()

	rc := &trigger.RunContext{
		App:        a,
		Components: components,
		Variables:  vars,
		Logger:     log,
		Stdin:      s.stdin,
		Stdout:     s.stdout,
		Stderr:     s.stderr,
		Config:     cfg,
	}
	outcome, err := trigger.NewSupervisor(log, s.triggers...).Run(ctx, rc, set)
	if err == nil {
		log.Info("application exited", zap.String("trigger", outcome.TriggerType))
	}
	return err
}

// LoadApp resolves and loads the application of inv without running it.
func (s *Shim) LoadApp(ctx context.Context, inv spinshim.Invocation) (*app.App, error) {
	cfg := config.FromInvocation(inv, s.paths)
	return s.loadApp(ctx, inv, cfg, s.logger)
}

func (s *Shim) loadApp(ctx context.Context, inv spinshim.Invocation, cfg config.Config, log *zap.Logger) (*app.App, error) {
	src, err := source.NewResolver(s.cache, cfg.Paths, log).Resolve(ctx, inv)
	if err != nil {
		return nil, err
	}
	log.Debug("resolved source", zap.Stringer("source", src))

	a, err := app.NewLoader(s.cache, cfg.Paths, log).Load(ctx, src)
	if err != nil {
		return nil, err
	}

	if len(cfg.ComponentsToRetain) > 0 {
		a, err = app.Retain(a, cfg.ComponentsToRetain)
		if err != nil {
			return nil, err
		}
		log.Info("retained components", zap.Strings("components", cfg.ComponentsToRetain))
	}
	return a, nil
}

func (s *Shim) newEngine(ctx context.Context, cfg config.Config) (*engine.Engine, error) {
	dir, err := s.cache.CompilationDir(engine.CompatibilityHash())
	if err != nil {
		return nil, err
	}
	return engine.New(ctx, engine.Config{
		MaxInstanceMemory:   cfg.MaxInstanceMemory,
		CompilationCacheDir: dir,
	})
}

// CanPrecompile returns the engine compatibility hash. Hosts store
// precompiled layers under it and call Precompile again when it changes.
func (s *Shim) CanPrecompile() string {
	return engine.CompatibilityHash()
}

// Precompile compiles the wasm layers into the on-disk compilation cache
// ahead of the first run. The result has one entry per layer.
func (s *Shim) Precompile(ctx context.Context, layers []spinshim.Layer) ([]bool, error) {
	eng, err := s.newEngine(ctx, config.Config{})
	if err != nil {
		return nil, err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	done, err := eng.Precompile(ctx, layers)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, ok := range done {
		if ok {
			n++
		}
	}
	s.logger.Info("precompiled layers", zap.Int("compiled", n), zap.Int("layers", len(layers)))
	return done, nil
}
