package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/wippyai/wtd-bridge/bridge"
	"github.com/wippyai/wtd-bridge/errors"
	"github.com/wippyai/wtd-bridge/source"
)

const (
	DefaultModuleName  = "wtd_rust"
	DefaultStartExport = "start"
	DefaultAnchor      = "canvas"
)

// Config holds configuration for engine creation
type Config struct {
	// ModuleName is the instance name inside the wazero runtime.
	ModuleName string

	// StartExport is the exported function invoked by Start.
	StartExport string

	// Anchors are the host resources the guest may look up by name,
	// such as the canvas it renders into.
	Anchors []string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.ModuleName == "" {
		out.ModuleName = DefaultModuleName
	}
	if out.StartExport == "" {
		out.StartExport = DefaultStartExport
	}
	if out.Anchors == nil {
		out.Anchors = []string{DefaultAnchor}
	}
	return out
}

// WazeroEngine loads an engine binary from a source and runs it on wazero.
// It implements bridge.Engine.
type WazeroEngine struct {
	runtime  wazero.Runtime
	src      source.Source
	anchors  map[string]struct{}
	log      *zap.Logger
	cfg      Config
	hostMu   sync.Mutex
	hostDone atomic.Bool
	wasiMu   sync.Mutex
	wasiDone atomic.Bool
}

var _ bridge.Engine = (*WazeroEngine)(nil)

// NewWazeroEngine creates an engine that will load from src.
func NewWazeroEngine(ctx context.Context, src source.Source, cfg *Config) (*WazeroEngine, error) {
	if src == nil {
		return nil, errors.Load(errors.StageFetch, "no engine source", nil)
	}
	c := cfg.withDefaults()

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	anchors := make(map[string]struct{}, len(c.Anchors))
	for _, a := range c.Anchors {
		anchors[a] = struct{}{}
	}

	return &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		src:     src,
		cfg:     c,
		anchors: anchors,
		log:     Logger().With(zap.String("module", c.ModuleName)),
	}, nil
}

// Location returns where the engine binary is loaded from.
func (e *WazeroEngine) Location() string {
	return e.src.Location()
}

// Initialize fetches, validates, compiles and instantiates the engine binary.
// The returned handle is an *Instance. Start functions are not run.
func (e *WazeroEngine) Initialize(ctx context.Context) (bridge.Handle, error) {
	location := e.src.Location()
	e.log.Debug("fetching engine binary", zap.String("location", location))

	data, err := e.src.Fetch(ctx)
	if err != nil {
		return nil, errors.AsLoad(errors.StageFetch, err)
	}
	if err := validatePreamble(location, data); err != nil {
		return nil, err
	}

	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.New(errors.KindLoad, errors.StageCompile).
			Resource(location).
			Cause(err).
			Build()
	}

	if err := e.linkImports(ctx, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.KindLoad, errors.StageInstantiate).
			Resource(location).
			Detail("link host imports").
			Cause(err).
			Build()
	}

	stdout := &zapio.Writer{Log: e.log.Named("stdout"), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: e.log.Named("stderr"), Level: zapcore.WarnLevel}

	modCfg := wazero.NewModuleConfig().
		WithName(e.cfg.ModuleName).
		WithStartFunctions().
		WithStdout(stdout).
		WithStderr(stderr)

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.KindLoad, errors.StageInstantiate).
			Resource(location).
			Cause(err).
			Build()
	}

	e.log.Debug("engine instantiated",
		zap.Int("bytes", len(data)),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &Instance{
		engine:   e,
		module:   mod,
		compiled: compiled,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

// Start invokes the configured start export on h.
func (e *WazeroEngine) Start(ctx context.Context, h bridge.Handle) error {
	inst, ok := h.(*Instance)
	if !ok || inst == nil {
		return errors.Start("handle was not produced by this engine", nil)
	}
	if inst.engine != e {
		return errors.Start("handle belongs to another engine", nil)
	}
	return inst.start(ctx, e.cfg.StartExport)
}

// Close releases the runtime and every module instantiated in it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// linkImports instantiates the host modules the compiled engine imports.
func (e *WazeroEngine) linkImports(ctx context.Context, compiled wazero.CompiledModule) error {
	needs := importedModules(compiled)

	if needs[HostModuleName] {
		if err := e.initHost(ctx); err != nil {
			return err
		}
	}
	if needs[wasiModuleName] {
		if err := e.initWASI(ctx); err != nil {
			return err
		}
	}
	return nil
}

func importedModules(compiled wazero.CompiledModule) map[string]bool {
	out := make(map[string]bool)
	for _, def := range compiled.ImportedFunctions() {
		if mod, _, ok := def.Import(); ok {
			out[mod] = true
		}
	}
	return out
}

func (e *WazeroEngine) initHost(ctx context.Context) error {
	if e.hostDone.Load() {
		return nil
	}

	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if e.hostDone.Load() {
		return nil
	}
	if _, err := instantiateHost(ctx, e.runtime, e); err != nil {
		return err
	}
	e.hostDone.Store(true)
	return nil
}

func (e *WazeroEngine) hasAnchor(name string) bool {
	_, ok := e.anchors[name]
	return ok
}

func exportSignature(fn api.Function) (params, results []api.ValueType) {
	def := fn.Definition()
	return def.ParamTypes(), def.ResultTypes()
}
