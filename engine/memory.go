package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/transcoder"
)

// guestMemory adapts a wazero memory to the canonical ABI codecs.
type guestMemory struct {
	mem api.Memory
}

func outOfBounds(op string, offset, length uint32) error {
	return errors.New(errors.PhaseRun, errors.KindRuntime).
		Detail("%s out of bounds: offset %d length %d", op, offset, length).Build()
}

func (m *guestMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds("read", offset, length)
	}
	return data, nil
}

func (m *guestMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return outOfBounds("write", offset, uint32(len(data)))
	}
	return nil
}

func (m *guestMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 1)
	}
	return v, nil
}

func (m *guestMemory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 2)
	}
	return v, nil
}

func (m *guestMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 4)
	}
	return v, nil
}

func (m *guestMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 8)
	}
	return v, nil
}

func (m *guestMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return outOfBounds("write", offset, 1)
	}
	return nil
}

func (m *guestMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return outOfBounds("write", offset, 2)
	}
	return nil
}

func (m *guestMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds("write", offset, 4)
	}
	return nil
}

func (m *guestMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds("write", offset, 8)
	}
	return nil
}

// guestAllocator allocates through the guest's cabi_realloc. Memory handed
// to the guest is owned by the guest, so Free is a no-op.
type guestAllocator struct {
	ctx     context.Context
	realloc api.Function
	stack   [4]uint64
}

func (a *guestAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.realloc == nil {
		return 0, errors.New(errors.PhaseRun, errors.KindAllocation).Detail("guest exports no %s", cabiRealloc).Build()
	}
	a.stack[0] = 0
	a.stack[1] = 0
	a.stack[2] = uint64(align)
	a.stack[3] = uint64(size)
	if err := a.realloc.CallWithStack(a.ctx, a.stack[:]); err != nil {
		return 0, err
	}
	return uint32(a.stack[0]), nil
}

func (a *guestAllocator) Free(_, _, _ uint32) {}

var (
	_ transcoder.Memory    = (*guestMemory)(nil)
	_ transcoder.Allocator = (*guestAllocator)(nil)
)
