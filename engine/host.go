package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModuleName is the import module the engine host provides to the guest.
//
//	log(ptr, len i32)           write a guest message to the logger
//	anchor(ptr, len i32) -> i32 1 if the named host anchor exists
//	fail(ptr, len i32)          report why start cannot proceed
const HostModuleName = "wtd"

var i32x2 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}

func instantiateHost(ctx context.Context, r wazero.Runtime, e *WazeroEngine) (api.Module, error) {
	builder := r.NewHostModuleBuilder(HostModuleName)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostLog), i32x2, nil).
		Export("log")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostAnchor), i32x2, []api.ValueType{api.ValueTypeI32}).
		Export("anchor")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostFail), i32x2, nil).
		Export("fail")

	return builder.Instantiate(ctx)
}

func (e *WazeroEngine) hostLog(_ context.Context, mod api.Module, stack []uint64) {
	msg, ok := readString(mod, stack[0], stack[1])
	if !ok {
		e.log.Warn("guest log out of bounds",
			zap.Uint32("ptr", api.DecodeU32(stack[0])),
			zap.Uint32("len", api.DecodeU32(stack[1])))
		return
	}
	e.log.Info(msg, zap.String("from", "guest"))
}

func (e *WazeroEngine) hostAnchor(_ context.Context, mod api.Module, stack []uint64) {
	name, ok := readString(mod, stack[0], stack[1])
	if ok && e.hasAnchor(name) {
		stack[0] = 1
		return
	}
	e.log.Debug("anchor not found", zap.String("anchor", name))
	stack[0] = 0
}

func (e *WazeroEngine) hostFail(ctx context.Context, mod api.Module, stack []uint64) {
	reason, ok := readString(mod, stack[0], stack[1])
	if !ok || reason == "" {
		reason = "engine reported a failure"
	}
	if r := reportFrom(ctx); r != nil {
		r.set(reason)
		return
	}
	e.log.Warn("guest failure outside start", zap.String("reason", reason))
}

func readString(mod api.Module, ptr, length uint64) (string, bool) {
	mem := mod.Memory()
	if mem == nil {
		return "", false
	}
	b, ok := mem.Read(api.DecodeU32(ptr), api.DecodeU32(length))
	if !ok {
		return "", false
	}
	return string(b), true
}

// startReport collects a failure reason raised by the guest during start.
type startReport struct {
	msg string
	mu  sync.Mutex
}

func (r *startReport) set(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msg == "" {
		r.msg = msg
	}
}

func (r *startReport) reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msg
}

type reportKey struct{}

func withReport(ctx context.Context, r *startReport) context.Context {
	return context.WithValue(ctx, reportKey{}, r)
}

func reportFrom(ctx context.Context) *startReport {
	r, _ := ctx.Value(reportKey{}).(*startReport)
	return r
}
