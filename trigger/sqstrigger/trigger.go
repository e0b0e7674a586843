// Package sqstrigger runs components for messages long-polled from AWS SQS
// queues. A message is deleted only after its component exits cleanly.
package sqstrigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/trigger"
)

const (
	defaultMaxMessages = 10
	defaultWaitSeconds = 20
	receiveRetryDelay  = 2 * time.Second
)

// Client is the subset of the SQS API the trigger uses.
type Client interface {
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue is one polled queue bound to a component.
type Queue struct {
	URL         string
	Component   string
	MaxMessages int32
	WaitSeconds int32
}

type triggerConfig struct {
	QueueURL        string `json:"queue_url"`
	Component       string `json:"component"`
	MaxMessages     *int32 `json:"max_messages"`
	IdleWaitSeconds *int32 `json:"idle_wait_seconds"`
}

// Queues reads the SQS triggers of a.
func Queues(a *app.App) ([]Queue, error) {
	var out []Queue
	for _, t := range a.TriggersOfType(trigger.TypeSQS) {
		var cfg triggerConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return nil, err
		}
		if cfg.QueueURL == "" || cfg.Component == "" {
			return nil, invalid("trigger %s needs queue_url and component", t.ID)
		}
		q := Queue{URL: cfg.QueueURL, Component: cfg.Component, MaxMessages: defaultMaxMessages, WaitSeconds: defaultWaitSeconds}
		if cfg.MaxMessages != nil {
			if *cfg.MaxMessages < 1 || *cfg.MaxMessages > 10 {
				return nil, invalid("trigger %s: max_messages must be between 1 and 10", t.ID)
			}
			q.MaxMessages = *cfg.MaxMessages
		}
		if cfg.IdleWaitSeconds != nil {
			if *cfg.IdleWaitSeconds < 0 || *cfg.IdleWaitSeconds > 20 {
				return nil, invalid("trigger %s: idle_wait_seconds must be between 0 and 20", t.ID)
			}
			q.WaitSeconds = *cfg.IdleWaitSeconds
		}
		out = append(out, q)
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
		Trigger(trigger.TypeSQS).Detail(format, args...).Build()
}

// Trigger is the SQS trigger.
type Trigger struct {
	newClient func(ctx context.Context) (Client, error)
}

// New returns the SQS trigger. Credentials and region come from the
// default AWS configuration chain.
func New() *Trigger {
	return &Trigger{newClient: defaultClient}
}

// NewWithClient returns an SQS trigger using c.
func NewWithClient(c Client) *Trigger {
	return &Trigger{newClient: func(context.Context) (Client, error) { return c, nil }}
}

func defaultClient(ctx context.Context) (Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// Type implements trigger.Trigger.
func (t *Trigger) Type() string { return trigger.TypeSQS }

// Start prepares the bound components and checks that every queue exists.
func (t *Trigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	log := rc.TriggerLogger(trigger.TypeSQS)

	queues, err := Queues(rc.App)
	if err != nil {
		return nil, err
	}
	for _, id := range trigger.ComponentIDs(rc.App, trigger.TypeSQS) {
		if err := rc.Components.Prepare(ctx, id); err != nil {
			return nil, err
		}
	}

	client, err := t.newClient(ctx)
	if err != nil {
		return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
			Trigger(trigger.TypeSQS).Detail("load AWS configuration").Cause(err).Build()
	}
	for _, q := range queues {
		_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(q.URL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		if err != nil {
			return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
				Trigger(trigger.TypeSQS).Component(q.Component).Detail("queue %s", q.URL).Cause(err).Build()
		}
		log.Info("polling queue", zap.String("queue", q.URL), zap.String("component", q.Component))
	}

	return func(ctx context.Context) error {
		var wg sync.WaitGroup
		for _, q := range queues {
			wg.Add(1)
			go func(q Queue) {
				defer wg.Done()
				p := &poller{client: client, queue: q, rc: rc, logger: log.With(zap.String("queue", q.URL))}
				p.run(ctx)
			}(q)
		}
		wg.Wait()
		return ctx.Err()
	}, nil
}

type poller struct {
	client Client
	queue  Queue
	rc     *trigger.RunContext
	logger *zap.Logger
}

// run polls until ctx is done. Receive errors are logged and retried.
func (p *poller) run(ctx context.Context) {
	for ctx.Err() == nil {
		out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(p.queue.URL),
			MaxNumberOfMessages:   p.queue.MaxMessages,
			WaitTimeSeconds:       p.queue.WaitSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}
		for _, msg := range out.Messages {
			p.handle(ctx, msg)
		}
	}
}

// handle runs the component for msg and deletes it on success. A failed
// message becomes visible again once its visibility timeout expires.
func (p *poller) handle(ctx context.Context, msg types.Message) {
	id := aws.ToString(msg.MessageId)
	err := p.rc.Components.Run(ctx, trigger.Call{
		Component: p.queue.Component,
		Stdin:     strings.NewReader(aws.ToString(msg.Body)),
		Stdout:    p.rc.Stdout,
		Env:       messageEnv(p.queue.URL, msg),
	})
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("component failed", zap.String("message_id", id), zap.Error(err))
		}
		return
	}

	_, err = p.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queue.URL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		p.logger.Error("delete message", zap.String("message_id", id), zap.Error(err))
	}
}

// messageEnv exposes the message id and its string attributes.
func messageEnv(queueURL string, msg types.Message) map[string]string {
	env := map[string]string{
		"SPIN_SQS_QUEUE_URL":  queueURL,
		"SPIN_SQS_MESSAGE_ID": aws.ToString(msg.MessageId),
	}
	for name, attr := range msg.MessageAttributes {
		if v := attr.StringValue; v != nil {
			key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
			env["SPIN_SQS_ATTR_"+key] = *v
		}
	}
	return env
}
