package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/component"
	"github.com/wippyai/spin-shim/transcoder"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// hostLower adapts a Go host function to a canon.lower import: guest
// arguments are lifted from the value stack and results lowered back.
type hostLower struct {
	argsPool     sync.Pool
	handlerIf    any
	handlerTyp   reflect.Type
	encoder      *transcoder.Encoder
	decoder      *transcoder.Decoder
	def          *component.LowerDef
	handler      reflect.Value
	paramTypes   []*transcoder.CompiledType
	resultTypes  []*transcoder.CompiledType
	argTypes     []reflect.Type
	numIn        int
	goParamStart int
	hasCtx       bool
}

func newHostLower(def *component.LowerDef, handler any, compiler *transcoder.Compiler) (*hostLower, error) {
	hv := reflect.ValueOf(handler)
	if hv.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", handler)
	}

	ht := hv.Type()
	numIn := ht.NumIn()
	hasCtx := numIn > 0 && ht.In(0) == contextType
	start := 0
	if hasCtx {
		start = 1
	}

	argTypes := make([]reflect.Type, numIn)
	for i := range argTypes {
		argTypes[i] = ht.In(i)
	}

	w := &hostLower{
		def:          def,
		handler:      hv,
		handlerTyp:   ht,
		handlerIf:    handler,
		encoder:      transcoder.NewEncoderWithCompiler(compiler),
		decoder:      transcoder.NewDecoderWithCompiler(compiler),
		numIn:        numIn,
		hasCtx:       hasCtx,
		goParamStart: start,
		argTypes:     argTypes,
		argsPool: sync.Pool{
			New: func() any {
				s := make([]reflect.Value, numIn)
				return &s
			},
		},
	}

	if err := w.compileTypes(compiler); err != nil {
		Logger().Debug("host function falls back to dynamic transcoding",
			zap.String("func", def.Name), zap.Error(err))
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *hostLower) compileTypes(compiler *transcoder.Compiler) error {
	w.paramTypes = make([]*transcoder.CompiledType, len(w.def.Params))
	for i, witType := range w.def.Params {
		goIdx := w.goParamStart + i
		if goIdx >= w.numIn {
			break
		}
		ct, err := compiler.Compile(witType, w.handlerTyp.In(goIdx))
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		w.paramTypes[i] = ct
	}

	numOut := w.handlerTyp.NumOut()
	w.resultTypes = make([]*transcoder.CompiledType, len(w.def.Results))
	for i, witType := range w.def.Results {
		if i >= numOut {
			break
		}
		ct, err := compiler.Compile(witType, w.handlerTyp.Out(i))
		if err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
		w.resultTypes[i] = ct
	}
	return nil
}

// validate checks the handler arity against the WIT signature. A WIT
// result<T, E> may map to a Go (T, error) pair.
func (w *hostLower) validate() error {
	if w.def.Params == nil {
		return nil
	}

	if got := w.numIn - w.goParamStart; got != len(w.def.Params) {
		return fmt.Errorf("param count mismatch: expected %d, got %d", len(w.def.Params), got)
	}
	if w.def.Results == nil {
		return nil
	}

	want, got := len(w.def.Results), w.handlerTyp.NumOut()
	if want == got || (want == 1 && got == 2 && w.hasResultType()) {
		return nil
	}
	return fmt.Errorf("result count mismatch: expected %d, got %d", want, got)
}

func (w *hostLower) hasResultType() bool {
	if len(w.def.Results) != 1 {
		return false
	}
	td, ok := w.def.Results[0].(*wit.TypeDef)
	if !ok {
		return false
	}
	_, ok = td.Kind.(*wit.Result)
	return ok
}

func (w *hostLower) usesRetptr() bool {
	return usesRetptr(w.def.Results)
}

// flatParamTypes is the core parameter list, with the trailing retptr when
// results spill to memory.
func (w *hostLower) flatParamTypes() []api.ValueType {
	var out []api.ValueType
	for _, p := range w.def.Params {
		out = append(out, flatTypes(p)...)
	}
	if w.usesRetptr() {
		out = append(out, api.ValueTypeI32)
	}
	return out
}

func (w *hostLower) flatResultTypes() []api.ValueType {
	if w.usesRetptr() {
		return nil
	}
	var out []api.ValueType
	for _, r := range w.def.Results {
		out = append(out, flatTypes(r)...)
	}
	return out
}

// rawFunc returns the core host function for the import.
func (w *hostLower) rawFunc() api.GoModuleFunc {
	if fn := w.fastFunc(); fn != nil {
		return fn
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		w.callHandler(ctx, mod, stack)
	}
}

// fastFunc handles signatures that are plain i32 values on both sides.
func (w *hostLower) fastFunc() api.GoModuleFunc {
	params, results := w.flatParamTypes(), w.flatResultTypes()
	if !allI32(params) || !allI32(results) || len(results) > 1 {
		return nil
	}

	switch fn := w.handlerIf.(type) {
	case func(context.Context, uint32):
		// A single flat i32 covers enums and payload-free results such as
		// the wasi:cli/exit status.
		if len(params) != 1 || len(results) != 0 {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			fn(ctx, uint32(stack[0]))
		}
	case func(context.Context) uint32:
		if len(params) != 0 || len(results) != 1 {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = uint64(fn(ctx))
		}
	case func(context.Context, uint32) uint32:
		if len(params) != 1 || len(results) != 1 || !w.simpleU32() {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = uint64(fn(ctx, uint32(stack[0])))
		}
	case func(context.Context, uint32, uint32) uint32:
		if len(params) != 2 || len(results) != 1 || !w.simpleU32() {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = uint64(fn(ctx, uint32(stack[0]), uint32(stack[1])))
		}
	case func(context.Context, uint32) bool:
		if len(params) != 1 || len(results) != 1 {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = boolToU64(fn(ctx, uint32(stack[0])))
		}
	case func(context.Context, uint32, uint32) bool:
		if len(params) != 2 || len(results) != 1 {
			return nil
		}
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = boolToU64(fn(ctx, uint32(stack[0]), uint32(stack[1])))
		}
	}
	return nil
}

// simpleU32 reports whether the WIT result is a u32 or a handle, which the
// Go uint32 carries unchanged.
func (w *hostLower) simpleU32() bool {
	for _, r := range w.def.Results {
		switch t := r.(type) {
		case wit.U32:
		case *wit.TypeDef:
			switch t.Kind.(type) {
			case *wit.Own, *wit.Borrow:
			default:
				return false
			}
		default:
			return false
		}
	}
	return true
}

func allI32(types []api.ValueType) bool {
	for _, t := range types {
		if t != api.ValueTypeI32 {
			return false
		}
	}
	return true
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (w *hostLower) callHandler(ctx context.Context, mod api.Module, stack []uint64) {
	log := Logger()

	if mod == nil || mod.Memory() == nil {
		log.Error("host call without guest memory", zap.String("func", w.def.Name))
		return
	}
	mem := &guestMemory{mem: mod.Memory()}
	alloc := &guestAllocator{ctx: ctx, realloc: mod.ExportedFunction(cabiRealloc)}

	argsPtr := w.argsPool.Get().(*[]reflect.Value)
	args := *argsPtr
	defer func() {
		var zero reflect.Value
		for i := range args {
			args[i] = zero
		}
		w.argsPool.Put(argsPtr)
	}()

	flatIdx, paramIdx := 0, 0
	for i := 0; i < w.numIn; i++ {
		paramType := w.argTypes[i]

		if i == 0 && w.hasCtx {
			args[i] = reflect.ValueOf(ctx)
			continue
		}

		switch {
		case paramIdx < len(w.paramTypes) && w.paramTypes[paramIdx] != nil:
			ct := w.paramTypes[paramIdx]
			val := reflect.New(paramType)
			consumed, err := w.decoder.LiftFromStack(ct, stack[flatIdx:], unsafe.Pointer(val.Pointer()), mem)
			if err != nil {
				log.Warn("lift argument", zap.String("func", w.def.Name), zap.Int("param", paramIdx), zap.Error(err))
				args[i] = reflect.Zero(paramType)
			} else {
				args[i] = val.Elem()
				flatIdx += consumed
			}
			paramIdx++
		case paramIdx < len(w.def.Params):
			arg, consumed, err := w.liftArg(w.def.Params[paramIdx], stack[flatIdx:], mem, paramType)
			if err != nil {
				log.Warn("lift argument", zap.String("func", w.def.Name), zap.Int("param", paramIdx), zap.Error(err))
				args[i] = reflect.Zero(paramType)
			} else {
				args[i] = arg
				flatIdx += consumed
			}
			paramIdx++
		default:
			args[i] = reflect.Zero(paramType)
		}
	}

	var retptr uint32
	if w.usesRetptr() && flatIdx < len(stack) {
		retptr = uint32(stack[flatIdx])
	}

	results := w.handler.Call(args)

	if w.usesRetptr() {
		offset := uint32(0)
		for i, result := range results {
			if i >= len(w.def.Results) {
				break
			}
			witType := w.def.Results[i]
			if err := w.storeResult(witType, result.Interface(), retptr+offset, mem, alloc); err != nil {
				log.Error("store result", zap.String("func", w.def.Name), zap.Int("result", i), zap.Error(err))
				return
			}
			offset += resultSize(witType)
		}
		return
	}

	resultIdx := 0
	for i, result := range results {
		switch {
		case i < len(w.resultTypes) && w.resultTypes[i] != nil:
			ct := w.resultTypes[i]
			rv := reflect.ValueOf(result.Interface())
			if !rv.IsValid() {
				resultIdx += ct.FlatCount
				continue
			}
			tmp := reflect.New(rv.Type())
			tmp.Elem().Set(rv)
			consumed, err := w.encoder.LowerToStack(ct, unsafe.Pointer(tmp.Pointer()), stack[resultIdx:], mem, alloc)
			if err != nil {
				log.Warn("lower result", zap.String("func", w.def.Name), zap.Int("result", i), zap.Error(err))
				continue
			}
			resultIdx += consumed
		case i < len(w.def.Results) && resultIdx < len(stack):
			flat, err := w.lowerResult(w.def.Results[i], result.Interface(), mem, alloc)
			if err != nil {
				log.Warn("lower result", zap.String("func", w.def.Name), zap.Int("result", i), zap.Error(err))
				continue
			}
			for _, v := range flat {
				if resultIdx < len(stack) {
					stack[resultIdx] = v
					resultIdx++
				}
			}
		}
	}
}

func (w *hostLower) storeResult(witType wit.Type, value any, addr uint32, mem transcoder.Memory, alloc transcoder.Allocator) error {
	if _, ok := witType.(wit.String); ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		var dataAddr uint32
		if len(s) > 0 {
			var err error
			if dataAddr, err = alloc.Alloc(uint32(len(s)), 1); err != nil {
				return err
			}
			if err := mem.Write(dataAddr, []byte(s)); err != nil {
				return err
			}
		}
		if err := mem.WriteU32(addr, dataAddr); err != nil {
			return err
		}
		return mem.WriteU32(addr+4, uint32(len(s)))
	}

	flat, err := w.encoder.EncodeParams([]wit.Type{witType}, []any{value}, mem, alloc, nil)
	if err != nil {
		return err
	}
	for i, v := range flat {
		if err := mem.WriteU32(addr+uint32(i*4), uint32(v)); err != nil {
			return err
		}
	}
	return nil
}

func (w *hostLower) liftArg(witType wit.Type, flat []uint64, mem transcoder.Memory, goType reflect.Type) (reflect.Value, int, error) {
	values, err := w.decoder.DecodeResults([]wit.Type{witType}, flat, mem)
	if err != nil {
		return reflect.Value{}, 0, err
	}
	if len(values) == 0 || values[0] == nil {
		return reflect.Zero(goType), flatCount(witType), nil
	}
	v := reflect.ValueOf(values[0])
	if !v.Type().ConvertibleTo(goType) {
		return reflect.Value{}, 0, fmt.Errorf("cannot convert %s to %s", v.Type(), goType)
	}
	return v.Convert(goType), flatCount(witType), nil
}

// lowerResult encodes a single result. Allocations are owned by the guest.
func (w *hostLower) lowerResult(witType wit.Type, value any, mem transcoder.Memory, alloc transcoder.Allocator) ([]uint64, error) {
	allocs := transcoder.NewAllocationList()
	defer allocs.Release()
	return w.encoder.EncodeParams([]wit.Type{witType}, []any{value}, mem, alloc, allocs)
}
