package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a run the error occurred
type Phase string

const (
	PhaseCache   Phase = "cache"   // content cache I/O
	PhaseResolve Phase = "resolve" // layer classification and source resolution
	PhaseLoad    Phase = "load"    // application descriptor loading
	PhaseSelect  Phase = "select"  // trigger type selection
	PhaseLaunch  Phase = "launch"  // trigger start
	PhaseRun     Phase = "run"     // trigger execution
	PhaseCompile Phase = "compile" // wasm compilation
	PhaseConfig  Phase = "config"  // environment and runtime config
	PhaseLink    Phase = "link"    // component instantiation and host binding
	PhaseEncode  Phase = "encode"  // Go to guest memory
	PhaseDecode  Phase = "decode"  // guest memory to Go
)

// Kind categorizes the error
type Kind string

const (
	KindIO                 Kind = "io"
	KindDigestMismatch     Kind = "digest_mismatch"
	KindInvalidDigest      Kind = "invalid_digest"
	KindInvalidSource      Kind = "invalid_source"
	KindInvalidData        Kind = "invalid_data"
	KindUnresolved         Kind = "unresolved"
	KindNotFound           Kind = "not_found"
	KindUnsupported        Kind = "unsupported"
	KindUnsupportedTrigger Kind = "unsupported_trigger"
	KindLaunch             Kind = "launch"
	KindRuntime            Kind = "runtime"
	KindInvalidInput       Kind = "invalid_input"
	KindTypeMismatch       Kind = "type_mismatch"
	KindAllocation         Kind = "allocation"
	KindFieldMissing       Kind = "field_missing"
	KindInvalidUTF8        Kind = "invalid_utf8"
	KindOverflow           Kind = "overflow"
	KindNilPointer         Kind = "nil_pointer"
	KindInvalidVariant     Kind = "invalid_variant"
	KindRegistration       Kind = "registration"
)

// Error is the structured error type used throughout the shim
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Digest    string
	Component string
	Trigger   string
	Path      string
	GoType    string
	WitType   string
	Detail    string
	Field     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	var ctx []string
	if e.Trigger != "" {
		ctx = append(ctx, "trigger "+e.Trigger)
	}
	if e.Component != "" {
		ctx = append(ctx, "component "+e.Component)
	}
	if e.Digest != "" {
		ctx = append(ctx, "digest "+e.Digest)
	}
	if e.Path != "" {
		ctx = append(ctx, "path "+e.Path)
	}
	if len(e.Field) > 0 {
		ctx = append(ctx, "at "+strings.Join(e.Field, "."))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteByte(')')
	}

	if e.GoType != "" || e.WitType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WitType != "":
			b.WriteString("Go type " + e.GoType + ", WIT type " + e.WitType)
		case e.GoType != "":
			b.WriteString("Go type " + e.GoType)
		default:
			b.WriteString("WIT type " + e.WitType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks against the shim's error taxonomy.
var (
	ErrCacheIO            = &Error{Phase: PhaseCache, Kind: KindIO}
	ErrDigestMismatch     = &Error{Phase: PhaseCache, Kind: KindDigestMismatch}
	ErrInvalidSource      = &Error{Phase: PhaseResolve, Kind: KindInvalidSource}
	ErrUnresolved         = &Error{Phase: PhaseLoad, Kind: KindUnresolved}
	ErrUnsupportedTrigger = &Error{Phase: PhaseSelect, Kind: KindUnsupportedTrigger}
	ErrTriggerLaunch      = &Error{Phase: PhaseLaunch, Kind: KindLaunch}
	ErrTriggerRuntime     = &Error{Phase: PhaseRun, Kind: KindRuntime}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Digest sets the offending content digest
func (b *Builder) Digest(d string) *Builder {
	b.err.Digest = d
	return b
}

// Component sets the offending component id
func (b *Builder) Component(id string) *Builder {
	b.err.Component = id
	return b
}

// Trigger sets the trigger type
func (b *Builder) Trigger(t string) *Builder {
	b.err.Trigger = t
	return b
}

// Path sets the offending filesystem path
func (b *Builder) Path(p string) *Builder {
	b.err.Path = p
	return b
}

// Field sets the path to the offending value inside a structured argument
func (b *Builder) Field(path ...string) *Builder {
	b.err.Field = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// CacheIO creates a cache I/O error for the given path
func CacheIO(path, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindIO,
		Path:   path,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidDigest creates an error for a malformed digest string
func InvalidDigest(phase Phase, d string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidDigest,
		Digest: d,
		Detail: "malformed digest",
		Cause:  cause,
	}
}

// DigestMismatch creates an error for content that does not hash to its digest
func DigestMismatch(d string) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindDigestMismatch,
		Digest: d,
		Detail: "content does not match digest",
	}
}

// InvalidSource creates an error for a layer set that cannot form a source
func InvalidSource(detail string, count int) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindInvalidSource,
		Detail: detail,
		Value:  count,
	}
}

// Unresolved creates a descriptor resolution error naming the component
func Unresolved(component, detail string, cause error) *Error {
	return &Error{
		Phase:     PhaseLoad,
		Kind:      KindUnresolved,
		Component: component,
		Detail:    detail,
		Cause:     cause,
	}
}

// UnsupportedTrigger creates an error for a trigger type outside the supported set
func UnsupportedTrigger(triggerType string, supported []string) *Error {
	return &Error{
		Phase:   PhaseSelect,
		Kind:    KindUnsupportedTrigger,
		Trigger: triggerType,
		Value:   triggerType,
		Detail: fmt.Sprintf("only %s triggers are supported, found unsupported trigger %q",
			strings.Join(supported, ", "), triggerType),
	}
}

// TriggerLaunch creates an error for a trigger that failed to start
func TriggerLaunch(triggerType string, cause error) *Error {
	return &Error{
		Phase:   PhaseLaunch,
		Kind:    KindLaunch,
		Trigger: triggerType,
		Detail:  "start trigger",
		Cause:   cause,
	}
}

// TriggerRuntime creates an error for a trigger task that exited with failure
func TriggerRuntime(triggerType string, cause error) *Error {
	return &Error{
		Phase:   PhaseRun,
		Kind:    KindRuntime,
		Trigger: triggerType,
		Detail:  "trigger exited",
		Cause:   cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// TypeMismatch creates an error for a Go value that does not fit its WIT type
func TypeMismatch(phase Phase, path []string, goType, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Field:   path,
		GoType:  goType,
		WitType: witType,
	}
}

// InvalidUTF8 creates an error for a string that is not valid UTF-8
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Field:  path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// FieldMissing creates an error for a record field absent from the Go struct
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Field:  path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// InvalidDiscriminant creates an error for a variant or enum tag out of range
func InvalidDiscriminant(phase Phase, path []string, disc uint32, maxValid uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Field:  path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// Registration creates an error for a host function that cannot be bound
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}
