// Package wasmtest assembles tiny WASI preview1 command modules for tests.
//
// Every module exports _start; the ones that touch stdio also export their
// memory as "memory", which WASI requires.
package wasmtest

import "encoding/binary"

const wasi = "wasi_snapshot_preview1"

const (
	opUnreachable = 0x00
	opLoop        = 0x03
	opEnd         = 0x0b
	opBr          = 0x0c
	opCall        = 0x10
	opDrop        = 0x1a
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41
	blockEmpty    = 0x40
)

// type indices in every module's type section
const (
	typeVoid   = 0 // () -> ()
	typeIOVec  = 1 // (i32 i32 i32 i32) -> i32
	typeI32Nil = 2 // (i32) -> ()
)

var importTypes = map[string]uint32{
	"fd_read":   typeIOVec,
	"fd_write":  typeIOVec,
	"proc_exit": typeI32Nil,
}

// Buffer accumulates wasm binary encoding.
type Buffer struct {
	Bytes []byte
}

func (b *Buffer) AppendByte(v ...byte) {
	b.Bytes = append(b.Bytes, v...)
}

// WriteU32 writes unsigned LEB128 encoding.
func (b *Buffer) WriteU32(v uint32) {
	for {
		byt := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			byt |= 0x80
		}
		b.AppendByte(byt)
		if v == 0 {
			break
		}
	}
}

// WriteI32 writes signed LEB128 encoding.
func (b *Buffer) WriteI32(v int32) {
	for {
		byt := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && byt&0x40 == 0) || (v == -1 && byt&0x40 != 0) {
			b.AppendByte(byt)
			break
		}
		b.AppendByte(byt | 0x80)
	}
}

func (b *Buffer) WriteString(s string) {
	b.WriteU32(uint32(len(s)))
	b.Bytes = append(b.Bytes, s...)
}

func (b *Buffer) section(id byte, body *Buffer) {
	b.AppendByte(id)
	b.WriteU32(uint32(len(body.Bytes)))
	b.Bytes = append(b.Bytes, body.Bytes...)
}

type module struct {
	imports []string
	data    []byte
	code    Buffer
	memory  bool
}

func (m *module) i32(v int32) {
	m.code.AppendByte(opI32Const)
	m.code.WriteI32(v)
}

func (m *module) call(idx uint32) {
	m.code.AppendByte(opCall)
	m.code.WriteU32(idx)
}

func (m *module) encode() []byte {
	var out Buffer
	out.AppendByte(0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00)

	var types Buffer
	types.WriteU32(3)
	types.AppendByte(0x60, 0x00, 0x00)
	types.AppendByte(0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f)
	types.AppendByte(0x60, 0x01, 0x7f, 0x00)
	out.section(1, &types)

	if len(m.imports) > 0 {
		var imports Buffer
		imports.WriteU32(uint32(len(m.imports)))
		for _, name := range m.imports {
			imports.WriteString(wasi)
			imports.WriteString(name)
			imports.AppendByte(0x00)
			imports.WriteU32(importTypes[name])
		}
		out.section(2, &imports)
	}

	var funcs Buffer
	funcs.WriteU32(1)
	funcs.WriteU32(typeVoid)
	out.section(3, &funcs)

	if m.memory {
		var mem Buffer
		mem.AppendByte(0x01, 0x00, 0x01)
		out.section(5, &mem)
	}

	var exports Buffer
	if m.memory {
		exports.WriteU32(2)
	} else {
		exports.WriteU32(1)
	}
	exports.WriteString("_start")
	exports.AppendByte(0x00)
	exports.WriteU32(uint32(len(m.imports)))
	if m.memory {
		exports.WriteString("memory")
		exports.AppendByte(0x02, 0x00)
	}
	out.section(7, &exports)

	var body Buffer
	body.AppendByte(0x00)
	body.Bytes = append(body.Bytes, m.code.Bytes...)
	body.AppendByte(opEnd)
	var code Buffer
	code.WriteU32(1)
	code.WriteU32(uint32(len(body.Bytes)))
	code.Bytes = append(code.Bytes, body.Bytes...)
	out.section(10, &code)

	if len(m.data) > 0 {
		var data Buffer
		data.WriteU32(1)
		data.AppendByte(0x00, opI32Const, 0x00, opEnd)
		data.WriteU32(uint32(len(m.data)))
		data.Bytes = append(data.Bytes, m.data...)
		out.section(11, &data)
	}
	return out.Bytes
}

// Noop returns a module whose _start returns immediately.
func Noop() []byte {
	m := &module{}
	return m.encode()
}

// Trap returns a module whose _start executes unreachable.
func Trap() []byte {
	m := &module{}
	m.code.AppendByte(opUnreachable)
	return m.encode()
}

// Spin returns a module whose _start loops forever.
func Spin() []byte {
	m := &module{}
	m.code.AppendByte(opLoop, blockEmpty, opBr, 0x00, opEnd)
	return m.encode()
}

// Exit returns a module whose _start calls proc_exit(code).
func Exit(code uint32) []byte {
	m := &module{imports: []string{"proc_exit"}}
	m.i32(int32(code))
	m.call(0)
	return m.encode()
}

// Print returns a module that writes text to stdout.
func Print(text string) []byte {
	// iovec{ptr=16, len} at 0, nwritten at 8, text at 16
	data := make([]byte, 16, 16+len(text))
	binary.LittleEndian.PutUint32(data[0:], 16)
	binary.LittleEndian.PutUint32(data[4:], uint32(len(text)))
	data = append(data, text...)

	m := &module{imports: []string{"fd_write"}, memory: true, data: data}
	m.i32(1)
	m.i32(0)
	m.i32(1)
	m.i32(8)
	m.call(0)
	m.code.AppendByte(opDrop)
	return m.encode()
}

// echoBuffer is where Echo reads stdin into; at most echoMax bytes are read.
const (
	echoBuffer = 1024
	echoMax    = 4096
)

// Echo returns a module that writes prefix followed by up to 4096 bytes of
// stdin to stdout.
func Echo(prefix string) []byte {
	if len(prefix) > echoBuffer-32 {
		panic("wasmtest: prefix too long")
	}
	// iov0{prefix} at 0, iov1{buffer} at 8, nread at 16, nwritten at 20,
	// prefix at 32, buffer at echoBuffer
	data := make([]byte, 32, 32+len(prefix))
	binary.LittleEndian.PutUint32(data[0:], 32)
	binary.LittleEndian.PutUint32(data[4:], uint32(len(prefix)))
	binary.LittleEndian.PutUint32(data[8:], echoBuffer)
	binary.LittleEndian.PutUint32(data[12:], echoMax)
	data = append(data, prefix...)

	m := &module{imports: []string{"fd_read", "fd_write"}, memory: true, data: data}
	// fd_read(0, iov1, 1, &nread)
	m.i32(0)
	m.i32(8)
	m.i32(1)
	m.i32(16)
	m.call(0)
	m.code.AppendByte(opDrop)
	// iov1.len = nread
	m.i32(12)
	m.i32(16)
	m.code.AppendByte(opI32Load, 0x02, 0x00)
	m.code.AppendByte(opI32Store, 0x02, 0x00)
	// fd_write(1, iov0, 2, &nwritten)
	m.i32(1)
	m.i32(0)
	m.i32(2)
	m.i32(20)
	m.call(1)
	m.code.AppendByte(opDrop)
	return m.encode()
}
