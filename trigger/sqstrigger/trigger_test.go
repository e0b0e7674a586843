package sqstrigger

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
	"github.com/wippyai/spin-shim/trigger"
)

const queueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/orders"

// fakeQueue hands out its messages once, then long-polls until cancelled.
type fakeQueue struct {
	mu        sync.Mutex
	messages  []types.Message
	deleted   []string
	received  chan struct{}
	attrErr   error
	drainOnce sync.Once
}

func newFakeQueue(bodies ...string) *fakeQueue {
	q := &fakeQueue{received: make(chan struct{})}
	for i, b := range bodies {
		id := string(rune('a' + i))
		q.messages = append(q.messages, types.Message{
			MessageId:     aws.String(id),
			ReceiptHandle: aws.String("rh-" + id),
			Body:          aws.String(b),
		})
	}
	return q
}

func (q *fakeQueue) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if q.attrErr != nil {
		return nil, q.attrErr
	}
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{"QueueArn": "arn:" + aws.ToString(in.QueueUrl)}}, nil
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	batch := q.messages
	q.messages = nil
	q.mu.Unlock()
	if len(batch) > 0 {
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	q.drainOnce.Do(func() { close(q.received) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func sqsTrigger(id string, cfg map[string]any) app.Trigger {
	raw, _ := json.Marshal(cfg)
	return app.Trigger{ID: id, TriggerType: "sqs", TriggerConfig: raw}
}

func sqsApp(wasm []byte) *app.App {
	return &app.App{
		Metadata: map[string]any{"name": "worker"},
		Triggers: []app.Trigger{sqsTrigger("orders", map[string]any{"queue_url": queueURL, "component": "worker"})},
		Components: []app.Component{{ID: "worker", Source: app.ComponentSource{
			ContentType: app.ContentTypeWasm,
			Content:     app.ContentRef{Inline: wasm},
		}}},
	}
}

func runContext(t *testing.T, a *app.App, stdout *syncBuffer) *trigger.RunContext {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	loader := trigger.NewComponentLoader(e, a, nil, nil, nil)
	t.Cleanup(func() { loader.Close() })
	return &trigger.RunContext{App: a, Components: loader, Stdout: stdout}
}

func TestQueues(t *testing.T) {
	a := &app.App{Triggers: []app.Trigger{
		sqsTrigger("a", map[string]any{"queue_url": "q1", "component": "c1"}),
		sqsTrigger("b", map[string]any{"queue_url": "q2", "component": "c2", "max_messages": 3, "idle_wait_seconds": 0}),
	}}
	got, err := Queues(a)
	if err != nil {
		t.Fatalf("Queues: %v", err)
	}
	want := []Queue{
		{URL: "q1", Component: "c1", MaxMessages: 10, WaitSeconds: 20},
		{URL: "q2", Component: "c2", MaxMessages: 3, WaitSeconds: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("Queues = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestQueues_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
	}{
		{"no queue", map[string]any{"component": "c"}},
		{"no component", map[string]any{"queue_url": "q"}},
		{"too many messages", map[string]any{"queue_url": "q", "component": "c", "max_messages": 11}},
		{"zero messages", map[string]any{"queue_url": "q", "component": "c", "max_messages": 0}},
		{"wait too long", map[string]any{"queue_url": "q", "component": "c", "idle_wait_seconds": 21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Queues(&app.App{Triggers: []app.Trigger{sqsTrigger("x", tt.cfg)}})
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
				t.Fatalf("err = %v, want invalid input", err)
			}
		})
	}
}

func runUntilDrained(t *testing.T, q *fakeQueue, rc *trigger.RunContext) {
	t.Helper()
	task, err := NewWithClient(q).Start(context.Background(), rc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	select {
	case <-q.received:
	case <-time.After(10 * time.Second):
		t.Fatal("queue was not drained")
	}
	cancel()
	if err := <-done; !stderrors.Is(err, context.Canceled) {
		t.Errorf("task = %v, want context.Canceled", err)
	}
}

func TestTrigger_DeletesHandledMessages(t *testing.T) {
	var stdout syncBuffer
	a := sqsApp(wasmtest.Echo(""))
	q := newFakeQueue("one;", "two;")
	runUntilDrained(t, q, runContext(t, a, &stdout))

	if got := stdout.String(); got != "one;two;" {
		t.Errorf("stdout = %q", got)
	}
	if len(q.deleted) != 2 || q.deleted[0] != "rh-a" || q.deleted[1] != "rh-b" {
		t.Errorf("deleted = %v", q.deleted)
	}
}

func TestTrigger_KeepsFailedMessages(t *testing.T) {
	a := sqsApp(wasmtest.Trap())
	q := newFakeQueue("boom")
	runUntilDrained(t, q, runContext(t, a, &syncBuffer{}))

	if len(q.deleted) != 0 {
		t.Errorf("deleted = %v, want none", q.deleted)
	}
}

func TestTrigger_MissingQueue(t *testing.T) {
	a := sqsApp(wasmtest.Noop())
	q := newFakeQueue()
	q.attrErr = stderrors.New("AWS.SimpleQueueService.NonExistentQueue")

	_, err := NewWithClient(q).Start(context.Background(), runContext(t, a, &syncBuffer{}))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseLaunch || e.Component != "worker" {
		t.Fatalf("err = %v, want launch error for worker", err)
	}
}

func TestMessageEnv(t *testing.T) {
	env := messageEnv(queueURL, types.Message{
		MessageId: aws.String("m1"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"trace-id": {DataType: aws.String("String"), StringValue: aws.String("abc")},
			"blob":     {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
		},
	})
	if env["SPIN_SQS_MESSAGE_ID"] != "m1" || env["SPIN_SQS_QUEUE_URL"] != queueURL {
		t.Errorf("env = %v", env)
	}
	if env["SPIN_SQS_ATTR_TRACE_ID"] != "abc" {
		t.Errorf("trace attribute = %q", env["SPIN_SQS_ATTR_TRACE_ID"])
	}
	if _, ok := env["SPIN_SQS_ATTR_BLOB"]; ok {
		t.Error("binary attribute exported")
	}
}
