package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/wippyai/wtd-bridge/errors"
)

// Instance is an instantiated engine module. It is the bridge.Handle
// produced by WazeroEngine.Initialize.
type Instance struct {
	engine   *WazeroEngine
	module   api.Module
	compiled wazero.CompiledModule
	stdout   *zapio.Writer
	stderr   *zapio.Writer
	started  atomic.Bool
	closed   atomic.Bool
}

// Name returns the instance name inside the runtime.
func (i *Instance) Name() string {
	return i.module.Name()
}

// Exports lists the exported function names.
func (i *Instance) Exports() []string {
	defs := i.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

func (i *Instance) start(ctx context.Context, export string) error {
	if i.closed.Load() {
		return errors.New(errors.KindStart, errors.StageStart).Export(export).Detail("instance closed").Build()
	}
	if !i.started.CompareAndSwap(false, true) {
		return errors.New(errors.KindStart, errors.StageStart).Export(export).Detail("already started").Build()
	}

	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return errors.ExportNotFound(export)
	}
	params, results := exportSignature(fn)
	if len(params) > 0 {
		return errors.New(errors.KindStart, errors.StageStart).
			Export(export).
			Detail("takes %d parameters, want none", len(params)).
			Build()
	}

	report := &startReport{}
	out, err := fn.Call(withReport(ctx, report))
	if err != nil {
		var exit *sys.ExitError
		if !stderrors.As(err, &exit) || exit.ExitCode() != 0 {
			b := errors.New(errors.KindStart, errors.StageStart).Export(export).Cause(err)
			if reason := report.reason(); reason != "" {
				b.Detail(reason)
			}
			return b.Build()
		}
	}

	if reason := report.reason(); reason != "" {
		return errors.New(errors.KindStart, errors.StageStart).Export(export).Detail(reason).Build()
	}
	if len(results) == 1 && results[0] == api.ValueTypeI32 && len(out) == 1 {
		if status := int32(api.DecodeU32(out[0])); status != 0 {
			return errors.New(errors.KindStart, errors.StageStart).
				Export(export).
				Detail("returned status %d", status).
				Build()
		}
	}

	i.engine.log.Info("engine start returned", zap.String("export", export))
	return nil
}

// Close releases the module and its compiled code. Safe to call twice.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := i.module.Close(ctx)
	if cerr := i.compiled.Close(ctx); err == nil {
		err = cerr
	}
	_ = i.stdout.Close()
	_ = i.stderr.Close()
	return err
}
