package preview2

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/wippyai/spin-shim/resource"
)

// MaxAllocationSize is the maximum size for single allocations (1 GB) to prevent DoS
const MaxAllocationSize = 1 << 30

// DefaultBufferSize is the default buffer size for streams (64 KB)
const DefaultBufferSize = 65536

// ResourceTable manages WASI preview2 resource handles.
// It is an adapter over the unified resource.WASITable.
type ResourceTable struct {
	table *resource.WASITable
}

// Resource is a WASI preview2 resource that can be managed by ResourceTable.
type Resource interface {
	// Type returns the resource type identifier.
	Type() ResourceType
	// Drop releases any underlying resources.
	Drop()
}

// ResourceType identifies the type of a WASI resource for type-safe handle management.
type ResourceType uint8

const (
	ResourcePollable ResourceType = iota
	ResourceInputStream
	ResourceOutputStream
	ResourceError
	ResourceDescriptor
	ResourceDirectoryEntryStream
	ResourceTerminalInput
	ResourceTerminalOutput
	ResourceFields
)

// NewResourceTable creates a new resource table
func NewResourceTable() *ResourceTable {
	return &ResourceTable{
		table: resource.NewWASITable(),
	}
}

// Add stores a resource and returns a stable handle.
func (t *ResourceTable) Add(r Resource) uint32 {
	return uint32(t.table.Add(&resourceAdapter{r}))
}

// Get returns the resource for a handle, or (nil, false) if invalid.
func (t *ResourceTable) Get(handle uint32) (Resource, bool) {
	res, ok := t.table.Get(resource.Handle(handle))
	if !ok {
		return nil, false
	}
	if adapter, ok := res.(*resourceAdapter); ok {
		return adapter.resource, true
	}
	return nil, false
}

// Remove calls Drop on the resource and removes it from the table.
func (t *ResourceTable) Remove(handle uint32) {
	if res, ok := t.table.Get(resource.Handle(handle)); ok {
		if adapter, ok := res.(*resourceAdapter); ok {
			adapter.resource.Drop()
		}
	}
	t.table.Remove(resource.Handle(handle))
}

// Clear drops and removes all resources. Used during shutdown.
func (t *ResourceTable) Clear() {
	t.table.Clear()
}

// resourceAdapter adapts preview2.Resource to resource.WASIResource
type resourceAdapter struct {
	resource Resource
}

func (a *resourceAdapter) WASIResourceType() resource.WASIResourceType {
	return resource.WASIResourceType(a.resource.Type())
}

// Drop implements resource.Dropper to ensure resource cleanup
func (a *resourceAdapter) Drop() {
	if a.resource != nil {
		a.resource.Drop()
	}
}

// Pollable is the interface for async-ready resources that can be polled.
type Pollable interface {
	Resource
	// Ready returns true if the resource is ready for I/O.
	Ready() bool
	// Block waits until the resource becomes ready or ctx is canceled.
	Block(ctx context.Context)
}

// PollableResource is a basic pollable that can be manually set ready.
type PollableResource struct {
	ready bool
}

func (p *PollableResource) Type() ResourceType { return ResourcePollable }
func (p *PollableResource) Drop()              {}
func (p *PollableResource) Ready() bool        { return p.ready }
func (p *PollableResource) SetReady(r bool)    { p.ready = r }
func (p *PollableResource) Block(ctx context.Context) {
	p.ready = true
}

// TimerPollable implements a time-based pollable that becomes ready at a deadline
type TimerPollable struct {
	deadline time.Time
}

// NewTimerPollable creates a pollable that becomes ready at the specified deadline
func NewTimerPollable(deadline time.Time) *TimerPollable {
	return &TimerPollable{deadline: deadline}
}

func (p *TimerPollable) Type() ResourceType { return ResourcePollable }
func (p *TimerPollable) Drop()              {}
func (p *TimerPollable) Ready() bool        { return time.Now().After(p.deadline) }
func (p *TimerPollable) Block(ctx context.Context) {
	remaining := time.Until(p.deadline)
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}

// InputStreamResource wraps byte data or io.Reader for WASI input streams.
type InputStreamResource struct {
	reader io.Reader
	data   []byte
	offset int
	closed bool
}

func NewInputStreamResource(source interface{}) *InputStreamResource {
	s := &InputStreamResource{}
	switch v := source.(type) {
	case []byte:
		s.data = v
	case io.Reader:
		s.reader = v
	}
	return s
}

func (s *InputStreamResource) Type() ResourceType { return ResourceInputStream }
func (s *InputStreamResource) Drop() {
	if s.reader != nil {
		if closer, ok := s.reader.(io.Closer); ok {
			closer.Close()
		}
	}
}

func (s *InputStreamResource) Read(length uint64) ([]byte, error) {
	if s.closed {
		return nil, &StreamError{Closed: true}
	}
	// Limit allocation to prevent DoS
	if length > MaxAllocationSize {
		length = MaxAllocationSize
	}
	if s.reader != nil {
		buf := make([]byte, length)
		n, err := s.reader.Read(buf)
		if err != nil {
			s.closed = true
			if errors.Is(err, io.EOF) {
				if n > 0 {
					return buf[:n], nil
				}
				return nil, &StreamError{Closed: true}
			}
			return nil, &StreamError{Closed: true}
		}
		return buf[:n], nil
	}
	remaining := len(s.data) - s.offset
	if remaining == 0 {
		s.closed = true
		return nil, &StreamError{Closed: true}
	}
	toRead := int(length)
	if toRead > remaining {
		toRead = remaining
	}
	result := s.data[s.offset : s.offset+toRead]
	s.offset += toRead
	return result, nil
}

// OutputStreamResource wraps a buffer or writer for WASI output streams.
type OutputStreamResource struct {
	bufferPtr *bytes.Buffer
	writer    io.Writer
	buf       []byte
	closed    bool
}

func NewOutputStreamResource(dest interface{}) *OutputStreamResource {
	s := &OutputStreamResource{}
	switch v := dest.(type) {
	case *bytes.Buffer:
		s.bufferPtr = v
	case io.Writer:
		s.writer = v
	}
	return s
}

func (s *OutputStreamResource) Type() ResourceType { return ResourceOutputStream }
func (s *OutputStreamResource) Drop()              {}

func (s *OutputStreamResource) Write(data []byte) error {
	if s.closed {
		return &StreamError{Closed: true}
	}
	if s.bufferPtr != nil {
		_, _ = s.bufferPtr.Write(data)
	} else if s.writer != nil {
		if _, err := s.writer.Write(data); err != nil {
			s.closed = true
			return &StreamError{Closed: true}
		}
	} else {
		s.buf = append(s.buf, data...)
	}
	return nil
}

func (s *OutputStreamResource) Bytes() []byte {
	if s.bufferPtr != nil {
		return s.bufferPtr.Bytes()
	}
	return s.buf
}

func (s *OutputStreamResource) CheckWrite() (uint64, error) {
	if s.closed {
		return 0, &StreamError{Closed: true}
	}
	return DefaultBufferSize, nil
}

// FileOutputStreamResource implements an output stream that writes to a file
type FileOutputStreamResource struct {
	file   *os.File
	offset int64
	append bool
	closed bool
}

// NewFileOutputStreamResource creates a file output stream
func NewFileOutputStreamResource(path string, offset int64, append bool) (*FileOutputStreamResource, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if append {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644) //nolint:gosec // WASI filesystem uses standard file permissions
	if err != nil {
		return nil, err
	}
	if !append && offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileOutputStreamResource{file: f, offset: offset, append: append}, nil
}

func (s *FileOutputStreamResource) Type() ResourceType { return ResourceOutputStream }

func (s *FileOutputStreamResource) Drop() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.closed = true
}

func (s *FileOutputStreamResource) Write(data []byte) error {
	if s.closed || s.file == nil {
		return &StreamError{Closed: true}
	}
	_, err := s.file.Write(data)
	if err != nil {
		return &StreamError{LastOpFailed: true}
	}
	return nil
}

func (s *FileOutputStreamResource) CheckWrite() (uint64, error) {
	if s.closed || s.file == nil {
		return 0, &StreamError{Closed: true}
	}
	return DefaultBufferSize, nil
}

func (s *FileOutputStreamResource) Flush() error {
	if s.closed || s.file == nil {
		return &StreamError{Closed: true}
	}
	return s.file.Sync()
}

// FieldsResource stores HTTP header fields as key -> []value pairs.
// Shared across wasi:http/types and wasi:http/outgoing-handler.
type FieldsResource struct {
	values map[string][]string
}

func NewFieldsResource() *FieldsResource {
	return &FieldsResource{values: make(map[string][]string)}
}

func (f *FieldsResource) Type() ResourceType { return ResourceFields }
func (f *FieldsResource) Drop()              { f.values = nil }

func (f *FieldsResource) Values() map[string][]string { return f.values }

func (f *FieldsResource) Append(name, value string) {
	f.values[name] = append(f.values[name], value)
}

func (f *FieldsResource) Set(name string, values []string) {
	f.values[name] = values
}

func (f *FieldsResource) Get(name string) []string {
	return f.values[name]
}

func (f *FieldsResource) Delete(name string) {
	delete(f.values, name)
}

func (f *FieldsResource) Has(name string) bool {
	_, ok := f.values[name]
	return ok
}

func (f *FieldsResource) Clone() *FieldsResource {
	c := NewFieldsResource()
	for k, v := range f.values {
		c.values[k] = append([]string{}, v...)
	}
	return c
}

// StreamError represents a WASI stream error with error codes.
type StreamError struct {
	Closed          bool   // Stream is closed
	LastOpFailed    bool   // Previous operation failed
	LastOpFailedErr uint32 // Error code from last failed operation
}

func (e *StreamError) Error() string {
	if e.Closed {
		return "stream closed"
	}
	return "stream error"
}

// ErrorResource holds an error message that can be retrieved via ToDebugString.
type ErrorResource struct {
	msg string
}

func NewErrorResource(msg string) *ErrorResource {
	return &ErrorResource{msg: msg}
}

func (e *ErrorResource) Type() ResourceType    { return ResourceError }
func (e *ErrorResource) Drop()                 {}
func (e *ErrorResource) ToDebugString() string { return e.msg }

// DescriptorResource represents an open file or directory handle.
type DescriptorResource struct {
	path     string
	isDir    bool
	readOnly bool
	position int64
}

func NewDescriptorResource(path string, isDir bool, readOnly bool) *DescriptorResource {
	return &DescriptorResource{
		path:     path,
		isDir:    isDir,
		readOnly: readOnly,
		position: 0,
	}
}

func (d *DescriptorResource) Type() ResourceType  { return ResourceDescriptor }
func (d *DescriptorResource) Drop()               {}
func (d *DescriptorResource) Path() string        { return d.path }
func (d *DescriptorResource) IsDir() bool         { return d.isDir }
func (d *DescriptorResource) ReadOnly() bool      { return d.readOnly }
func (d *DescriptorResource) Position() int64     { return d.position }
func (d *DescriptorResource) SetPosition(p int64) { d.position = p }

// DirectoryEntryStreamResource iterates over directory entries.
type DirectoryEntryStreamResource struct {
	entries []DirectoryEntry
	offset  int
}

// DirectoryEntry represents a single entry in a directory listing.
type DirectoryEntry struct {
	Name string
	Type uint8
}

func NewDirectoryEntryStreamResource(entries []DirectoryEntry) *DirectoryEntryStreamResource {
	return &DirectoryEntryStreamResource{
		entries: entries,
	}
}

func (d *DirectoryEntryStreamResource) Type() ResourceType { return ResourceDirectoryEntryStream }
func (d *DirectoryEntryStreamResource) Drop()              {}
func (d *DirectoryEntryStreamResource) ReadNext() *DirectoryEntry {
	if d.offset >= len(d.entries) {
		return nil
	}
	entry := d.entries[d.offset]
	d.offset++
	return &entry
}
