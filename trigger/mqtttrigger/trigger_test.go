package mqtttrigger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
	"github.com/wippyai/spin-shim/trigger"
)

func mqttTrigger(id string, cfg map[string]any) app.Trigger {
	raw, _ := json.Marshal(cfg)
	return app.Trigger{ID: id, TriggerType: "mqtt", TriggerConfig: raw}
}

func mqttApp(meta map[string]any, triggers ...app.Trigger) *app.App {
	return &app.App{
		Metadata: map[string]any{"name": "sensors", "triggers": map[string]any{"mqtt": meta}},
		Triggers: triggers,
	}
}

func TestConfig(t *testing.T) {
	a := mqttApp(
		map[string]any{"address": "tcp://broker:1883", "username": "u", "password": "p", "keep_alive_interval": "15"},
		mqttTrigger("a", map[string]any{"topic": "sensors/+/temp", "component": "temp", "qos": 1}),
		mqttTrigger("b", map[string]any{"topic": "alerts", "component": "alert"}),
	)
	broker, subs, err := Config(a)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	wantBroker := Broker{Address: "tcp://broker:1883", Username: "u", Password: "p", KeepAlive: 15 * time.Second}
	if broker != wantBroker {
		t.Errorf("broker = %+v, want %+v", broker, wantBroker)
	}
	wantSubs := []Subscription{
		{Topic: "sensors/+/temp", QoS: 1, Component: "temp"},
		{Topic: "alerts", QoS: 0, Component: "alert"},
	}
	if !reflect.DeepEqual(subs, wantSubs) {
		t.Errorf("subs = %+v, want %+v", subs, wantSubs)
	}
}

func TestConfig_DefaultKeepAlive(t *testing.T) {
	broker, _, err := Config(mqttApp(map[string]any{"address": "tcp://b:1883"}))
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if broker.KeepAlive != defaultKeepAlive {
		t.Errorf("KeepAlive = %v", broker.KeepAlive)
	}
}

func TestConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		app  *app.App
	}{
		{"no address", mqttApp(map[string]any{})},
		{"bad keep alive", mqttApp(map[string]any{"address": "tcp://b", "keep_alive_interval": "soon"})},
		{"negative keep alive", mqttApp(map[string]any{"address": "tcp://b", "keep_alive_interval": -1})},
		{"no topic", mqttApp(map[string]any{"address": "tcp://b"}, mqttTrigger("a", map[string]any{"component": "c"}))},
		{"no component", mqttApp(map[string]any{"address": "tcp://b"}, mqttTrigger("a", map[string]any{"topic": "t"}))},
		{"qos out of range", mqttApp(map[string]any{"address": "tcp://b"}, mqttTrigger("a", map[string]any{"topic": "t", "component": "c", "qos": 3}))},
		{"fractional qos", mqttApp(map[string]any{"address": "tcp://b"}, mqttTrigger("a", map[string]any{"topic": "t", "component": "c", "qos": 1.5}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Config(tt.app)
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
				t.Fatalf("err = %v, want invalid input", err)
			}
		})
	}
}

func TestStart_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	a := mqttApp(map[string]any{"address": "tcp://" + addr},
		mqttTrigger("a", map[string]any{"topic": "t", "component": "c"}))
	a.Components = []app.Component{{ID: "c", Source: app.ComponentSource{
		ContentType: app.ContentTypeWasm,
		Content:     app.ContentRef{Inline: wasmtest.Noop()},
	}}}

	e, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer e.Close(context.Background())
	loader := trigger.NewComponentLoader(e, a, nil, nil, nil)
	defer loader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	task, err := New().Start(ctx, &trigger.RunContext{App: a, Components: loader})
	if task != nil {
		t.Error("task returned on failure")
	}
	var te *errors.Error
	if !stderrors.As(err, &te) || te.Phase != errors.PhaseLaunch || te.Kind != errors.KindIO {
		t.Fatalf("err = %v, want launch io error", err)
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{float64(2), 2, true},
		{int64(7), 7, true},
		{"30", 30, true},
		{"x", 0, false},
		{1.25, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, err := number(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("number(%v) = %d, %v", tt.in, got, err)
		}
	}
}

func TestClientOptions_Hostname(t *testing.T) {
	b := Broker{Address: "tcp://localhost:1883", KeepAlive: time.Second}

	opts := clientOptions(b, "demo", "pod-7")
	if id := opts.ClientID; !strings.HasPrefix(id, "spin-demo-pod-7-") {
		t.Errorf("client id = %q, want the instance hostname", id)
	}

	host, _ := os.Hostname()
	opts = clientOptions(b, "demo", "")
	if id := opts.ClientID; !strings.HasPrefix(id, "spin-demo-"+host+"-") {
		t.Errorf("client id = %q, want host name fallback %q", id, host)
	}
}

func TestInflight(t *testing.T) {
	var f inflight
	if !f.enter() {
		t.Fatal("enter before close refused")
	}

	closed := make(chan struct{})
	go func() {
		f.close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned with a handler running")
	case <-time.After(50 * time.Millisecond):
	}

	f.leave()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	if f.enter() {
		t.Error("enter after close admitted")
	}
}

func TestInflight_ConcurrentEnterClose(t *testing.T) {
	var f inflight
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.enter() {
				f.leave()
			}
		}()
	}
	f.close()
	wg.Wait()
}
