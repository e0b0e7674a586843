package trigger

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
)

// fakeTrigger records its lifecycle. Its task returns taskErr after delay,
// or ctx.Err() if cancelled first.
type fakeTrigger struct {
	typ      string
	startErr error
	taskErr  error
	delay    time.Duration
	block    bool

	started   atomic.Int32
	cancelled atomic.Bool
	finished  atomic.Bool
}

func (f *fakeTrigger) Type() string { return f.typ }

func (f *fakeTrigger) Start(ctx context.Context, rc *RunContext) (Task, error) {
	f.started.Add(1)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return func(ctx context.Context) error {
		defer f.finished.Store(true)
		if f.block {
			<-ctx.Done()
			f.cancelled.Store(true)
			return ctx.Err()
		}
		select {
		case <-time.After(f.delay):
			return f.taskErr
		case <-ctx.Done():
			f.cancelled.Store(true)
			return ctx.Err()
		}
	}, nil
}

func appWithTriggers(types ...string) *app.App {
	a := &app.App{}
	for _, t := range types {
		a.Triggers = append(a.Triggers, app.Trigger{ID: t, TriggerType: t})
	}
	return a
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		types   []string
		want    []string
		wantErr string
	}{
		{name: "dedup", types: []string{"http", "http", "redis"}, want: []string{"http", "redis"}},
		{name: "all supported", types: []string{"command", "mqtt", "sqs", "redis", "http"}, want: []string{"command", "http", "mqtt", "redis", "sqs"}},
		{name: "empty", types: nil, want: []string{}},
		{name: "unsupported", types: []string{"http", "cron"}, wantErr: "cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Select(appWithTriggers(tt.types...))
			if tt.wantErr != "" {
				if !stderrors.Is(err, errors.ErrUnsupportedTrigger) {
					t.Fatalf("err = %v, want unsupported trigger", err)
				}
				var se *errors.Error
				if !stderrors.As(err, &se) || se.Trigger != tt.wantErr {
					t.Errorf("error should name %q: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			got := set.Sorted()
			if len(got) != len(tt.want) {
				t.Fatalf("set = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("set = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSelect_UnsupportedLaunchesNothing(t *testing.T) {
	http := &fakeTrigger{typ: "http", block: true}
	sup := NewSupervisor(nil, http)

	set, err := Select(appWithTriggers("http", "websocket"))
	if err == nil {
		_, err = sup.Run(context.Background(), &RunContext{}, set)
	}
	if !stderrors.Is(err, errors.ErrUnsupportedTrigger) {
		t.Fatalf("err = %v, want unsupported trigger", err)
	}
	if n := http.started.Load(); n != 0 {
		t.Errorf("launch count = %d, want 0", n)
	}
}

func TestSupervisor_FirstExitWins(t *testing.T) {
	fast := &fakeTrigger{typ: "http", delay: 10 * time.Millisecond}
	slow := &fakeTrigger{typ: "redis", delay: time.Hour}

	sup := NewSupervisor(nil, fast, slow)
	outcome, err := sup.Run(context.Background(), &RunContext{}, NewSet("http", "redis"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.TriggerType != "http" {
		t.Errorf("outcome = %q, want http", outcome.TriggerType)
	}
	if !slow.cancelled.Load() {
		t.Error("losing task did not observe cancellation")
	}
	if !slow.finished.Load() {
		t.Error("losing task was not joined before Run returned")
	}
}

func TestSupervisor_FirstFailureIsRuntimeError(t *testing.T) {
	boom := stderrors.New("listener died")
	failing := &fakeTrigger{typ: "mqtt", delay: 5 * time.Millisecond, taskErr: boom}
	other := &fakeTrigger{typ: "sqs", block: true}

	sup := NewSupervisor(nil, failing, other)
	outcome, err := sup.Run(context.Background(), &RunContext{}, NewSet("mqtt", "sqs"))
	if !stderrors.Is(err, errors.ErrTriggerRuntime) {
		t.Fatalf("err = %v, want trigger runtime error", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("err should wrap the task error: %v", err)
	}
	var se *errors.Error
	if !stderrors.As(err, &se) || se.Trigger != "mqtt" {
		t.Errorf("error should be tagged with mqtt: %v", err)
	}
	if outcome.TriggerType != "mqtt" {
		t.Errorf("outcome = %q", outcome.TriggerType)
	}
	if !other.cancelled.Load() {
		t.Error("other task not cancelled")
	}
}

func TestSupervisor_LaunchFailureJoinsStarted(t *testing.T) {
	// sorted order: command starts, then http fails, redis never starts
	command := &fakeTrigger{typ: "command", block: true}
	http := &fakeTrigger{typ: "http", startErr: stderrors.New("address in use")}
	redis := &fakeTrigger{typ: "redis", block: true}

	sup := NewSupervisor(nil, command, http, redis)
	_, err := sup.Run(context.Background(), &RunContext{}, NewSet("command", "http", "redis"))
	if !stderrors.Is(err, errors.ErrTriggerLaunch) {
		t.Fatalf("err = %v, want launch error", err)
	}
	var se *errors.Error
	if !stderrors.As(err, &se) || se.Trigger != "http" {
		t.Errorf("launch error should name http: %v", err)
	}
	if !command.finished.Load() || !command.cancelled.Load() {
		t.Error("started task was left running")
	}
	if n := redis.started.Load(); n != 0 {
		t.Errorf("redis started %d times after launch failure", n)
	}
}

func TestSupervisor_MissingExecutor(t *testing.T) {
	sup := NewSupervisor(nil)
	_, err := sup.Run(context.Background(), &RunContext{}, NewSet("http"))
	if !stderrors.Is(err, errors.ErrTriggerLaunch) {
		t.Fatalf("err = %v, want launch error", err)
	}
}

func TestSupervisor_EmptySet(t *testing.T) {
	sup := NewSupervisor(nil)
	if _, err := sup.Run(context.Background(), &RunContext{}, NewSet()); err == nil {
		t.Fatal("expected error for empty set")
	}
}

func TestSupervisor_ParentCancellation(t *testing.T) {
	a := &fakeTrigger{typ: "http", block: true}
	b := &fakeTrigger{typ: "redis", block: true}
	sup := NewSupervisor(nil, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = sup.Run(ctx, &RunContext{}, NewSet("http", "redis"))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !a.finished.Load() || !b.finished.Load() {
		t.Error("tasks not joined")
	}
}

func TestSupervisor_CancelledBeforeLaunch(t *testing.T) {
	tr := &fakeTrigger{typ: "http", block: true}
	sup := NewSupervisor(nil, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sup.Run(ctx, &RunContext{}, NewSet("http")); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if tr.started.Load() != 0 {
		t.Error("trigger started after cancellation")
	}
}
