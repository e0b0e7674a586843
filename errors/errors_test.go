package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:     PhaseLoad,
				Kind:      KindUnresolved,
				Component: "api",
				Digest:    "sha256:abc",
				Detail:    "content not in cache",
			},
			contains: []string{"[load]", "unresolved", "component api", "digest sha256:abc", "content not in cache"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseSelect,
				Kind:  KindUnsupportedTrigger,
			},
			contains: []string{"[select]", "unsupported_trigger"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:   PhaseRun,
				Kind:    KindRuntime,
				Trigger: "http",
				Cause:   errors.New("listener closed"),
			},
			contains: []string{"[run]", "runtime", "trigger http", "caused by", "listener closed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := CacheIO("/cache/x", "write", cause)

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not walk to cause")
	}
}

func TestError_Is(t *testing.T) {
	err := TriggerLaunch("redis", errors.New("dial"))

	if !errors.Is(err, ErrTriggerLaunch) {
		t.Error("errors.Is should match launch sentinel")
	}
	if errors.Is(err, ErrTriggerRuntime) {
		t.Error("errors.Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseLaunch, Kind: KindRuntime}) {
		t.Error("Is should not match different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLoad, KindUnresolved).
		Component("api").
		Digest("sha256:1234").
		Trigger("http").
		Path("/spin.json").
		Value(42).
		Cause(cause).
		Detail("missing %s", "content").
		Build()

	if err.Phase != PhaseLoad {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLoad)
	}
	if err.Kind != KindUnresolved {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnresolved)
	}
	if err.Component != "api" || err.Digest != "sha256:1234" || err.Trigger != "http" || err.Path != "/spin.json" {
		t.Errorf("context fields = %+v", err)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "missing content" {
		t.Errorf("Detail = %q, want 'missing content'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("InvalidSource", func(t *testing.T) {
		err := InvalidSource("expected a single packaged component layer, found 3", 3)
		if !errors.Is(err, ErrInvalidSource) {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidSource)
		}
		if err.Value != 3 {
			t.Errorf("Value = %v, want 3", err.Value)
		}
	})

	t.Run("UnsupportedTrigger", func(t *testing.T) {
		err := UnsupportedTrigger("cron", []string{"http", "redis"})
		if err.Trigger != "cron" {
			t.Errorf("Trigger = %q, want cron", err.Trigger)
		}
		if !strings.Contains(err.Error(), `"cron"`) {
			t.Errorf("message should name the tag: %s", err.Error())
		}
	})

	t.Run("Unresolved", func(t *testing.T) {
		err := Unresolved("worker", "missing content", nil)
		if !errors.Is(err, ErrUnresolved) || err.Component != "worker" {
			t.Errorf("unexpected error %+v", err)
		}
	})

	t.Run("DigestMismatch", func(t *testing.T) {
		err := DigestMismatch("sha256:00")
		if !errors.Is(err, ErrDigestMismatch) {
			t.Errorf("Kind = %v, want %v", err.Kind, KindDigestMismatch)
		}
	})

	t.Run("TriggerRuntime", func(t *testing.T) {
		cause := errors.New("boom")
		err := TriggerRuntime("command", cause)
		if !errors.Is(err, ErrTriggerRuntime) || !errors.Is(err, cause) {
			t.Errorf("unexpected error %+v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseLoad, "component", "api")
		if err.Kind != KindNotFound || !strings.Contains(err.Detail, `"api"`) {
			t.Errorf("unexpected error %+v", err)
		}
	})
}

func TestCodecConstructors(t *testing.T) {
	path := []string{"request", "headers"}
	tests := []struct {
		err    *Error
		name   string
		kind   Kind
		substr string
	}{
		{TypeMismatch(PhaseEncode, path, "int", "string"), "TypeMismatch", KindTypeMismatch, "Go type int, WIT type string"},
		{InvalidUTF8(PhaseDecode, path, []byte{0xff, 0xfe}), "InvalidUTF8", KindInvalidUTF8, "fffe"},
		{FieldMissing(PhaseEncode, path, "status"), "FieldMissing", KindFieldMissing, `"status"`},
		{InvalidDiscriminant(PhaseDecode, path, 7, 2), "InvalidDiscriminant", KindInvalidVariant, "discriminant 7 out of range (max 2)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Errorf("Kind = %v, want %v", tc.err.Kind, tc.kind)
			}
			msg := tc.err.Error()
			if !strings.Contains(msg, tc.substr) {
				t.Errorf("message %q should contain %q", msg, tc.substr)
			}
			if !strings.Contains(msg, "at request.headers") {
				t.Errorf("message %q should name the field path", msg)
			}
		})
	}
}

func TestRegistration(t *testing.T) {
	cause := errors.New("handler has 3 params, import has 2")
	err := Registration("wasi:io/streams@0.2.8", "[method]output-stream.write", cause)
	if err.Phase != PhaseLink || err.Kind != KindRegistration {
		t.Errorf("unexpected error %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrapped")
	}
	if !strings.Contains(err.Error(), "wasi:io/streams@0.2.8#[method]output-stream.write") {
		t.Errorf("message should name the function: %s", err.Error())
	}
}
