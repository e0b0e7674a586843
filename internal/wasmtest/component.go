package wasmtest

// Component builders wrap a single core module into a component exporting
// one WASI preview2 interface at version 0.2.0. They import nothing, so they
// link against any host set.

const (
	RunExport     = "wasi:cli/run@0.2.0"
	HandlerExport = "wasi:http/incoming-handler@0.2.0"
)

// component model value types
const (
	valU32    = 0x79
	valResult = 0x6a
	valFunc   = 0x40
)

// Run returns a command component whose run export returns ok when failed
// is false and err otherwise.
func Run(failed bool) []byte {
	status := int32(0)
	if failed {
		status = 1
	}

	// () -> i32 returning the result discriminant
	var code Buffer
	code.AppendByte(opI32Const)
	code.WriteI32(status)
	core := coreExport(RunExport+"#run", []byte{0x60, 0x00, 0x01, 0x7f}, code.Bytes)

	// type 0: result; type 1: func() -> result
	var types Buffer
	types.WriteU32(2)
	types.AppendByte(valResult, 0x00, 0x00)
	types.AppendByte(valFunc, 0x00, 0x00, 0x00)

	return wrap(core, RunExport, "run", &types, 1)
}

// Handler returns an HTTP component whose handle export returns without
// setting a response.
func Handler() []byte {
	core := coreExport(HandlerExport+"#handle", []byte{0x60, 0x02, 0x7f, 0x7f, 0x00}, nil)

	// type 0: func(request: u32, response-out: u32)
	var types Buffer
	types.WriteU32(1)
	types.AppendByte(valFunc)
	types.WriteU32(2)
	types.WriteString("request")
	types.AppendByte(valU32)
	types.WriteString("response-out")
	types.AppendByte(valU32)
	types.AppendByte(0x01, 0x00)

	return wrap(core, HandlerExport, "handle", &types, 0)
}

// coreExport encodes a core module with one function of the given type
// exported as name.
func coreExport(name string, funcType, body []byte) []byte {
	var out Buffer
	out.AppendByte(0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00)

	var types Buffer
	types.WriteU32(1)
	types.AppendByte(funcType...)
	out.section(1, &types)

	var funcs Buffer
	funcs.WriteU32(1)
	funcs.WriteU32(0)
	out.section(3, &funcs)

	var exports Buffer
	exports.WriteU32(1)
	exports.WriteString(name)
	exports.AppendByte(0x00, 0x00)
	out.section(7, &exports)

	var fn Buffer
	fn.AppendByte(0x00)
	fn.AppendByte(body...)
	fn.AppendByte(opEnd)
	var code Buffer
	code.WriteU32(1)
	code.WriteU32(uint32(len(fn.Bytes)))
	code.AppendByte(fn.Bytes...)
	out.section(10, &code)

	return out.Bytes
}

// wrap instantiates core, lifts its only export with the function type at
// funcType and exports it as fn of an instance named iface.
func wrap(core []byte, iface, fn string, types *Buffer, funcType uint32) []byte {
	var out Buffer
	out.AppendByte(0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00)

	out.section(1, &Buffer{Bytes: core})

	// core instance 0 = instantiate module 0 without args
	var inst Buffer
	inst.AppendByte(0x01, 0x00, 0x00, 0x00)
	out.section(2, &inst)

	// core func 0 = alias core export of instance 0
	var alias Buffer
	alias.WriteU32(1)
	alias.AppendByte(0x00, 0x00, 0x01, 0x00)
	alias.WriteString(iface + "#" + fn)
	out.section(6, &alias)

	out.section(7, types)

	// func 0 = canon lift core func 0
	var canon Buffer
	canon.AppendByte(0x01, 0x00, 0x00, 0x00, 0x00)
	canon.WriteU32(funcType)
	out.section(8, &canon)

	// instance 0 = { fn: func 0 }
	var comp Buffer
	comp.AppendByte(0x01, 0x01, 0x01, 0x00)
	comp.WriteString(fn)
	comp.AppendByte(0x01, 0x00)
	out.section(5, &comp)

	var exports Buffer
	exports.WriteU32(1)
	exports.AppendByte(0x00)
	exports.WriteString(iface)
	exports.AppendByte(0x05, 0x00, 0x00)
	out.section(11, &exports)

	return out.Bytes
}
