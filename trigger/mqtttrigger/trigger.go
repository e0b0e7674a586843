// Package mqtttrigger runs components for messages received on MQTT
// topics. The message payload is the component's stdin.
package mqtttrigger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/trigger"
)

const (
	defaultKeepAlive  = 30 * time.Second
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// Broker is the application-level MQTT connection settings.
type Broker struct {
	Address   string
	Username  string
	Password  string
	KeepAlive time.Duration
}

// Subscription binds a topic filter to a component.
type Subscription struct {
	Topic     string
	QoS       byte
	Component string
}

type triggerConfig struct {
	Component string `json:"component"`
	Topic     string `json:"topic"`
	QoS       any    `json:"qos"`
}

// Config reads the broker settings and subscriptions of a.
func Config(a *app.App) (Broker, []Subscription, error) {
	meta := a.TriggerMetadata(trigger.TypeMQTT)
	b := Broker{KeepAlive: defaultKeepAlive}
	b.Address, _ = meta["address"].(string)
	b.Username, _ = meta["username"].(string)
	b.Password, _ = meta["password"].(string)
	if b.Address == "" {
		return Broker{}, nil, invalid("application has no mqtt address")
	}
	if v, ok := meta["keep_alive_interval"]; ok {
		secs, err := number(v)
		if err != nil || secs < 0 {
			return Broker{}, nil, invalid("keep_alive_interval %v is not a number of seconds", v)
		}
		if secs > 0 {
			b.KeepAlive = time.Duration(secs) * time.Second
		}
	}

	var subs []Subscription
	for _, t := range a.TriggersOfType(trigger.TypeMQTT) {
		var cfg triggerConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return Broker{}, nil, err
		}
		if cfg.Topic == "" || cfg.Component == "" {
			return Broker{}, nil, invalid("trigger %s needs topic and component", t.ID)
		}
		var qos int64
		if cfg.QoS != nil {
			n, err := number(cfg.QoS)
			if err != nil || n < 0 || n > 2 {
				return Broker{}, nil, invalid("trigger %s: qos %v must be 0, 1 or 2", t.ID, cfg.QoS)
			}
			qos = n
		}
		subs = append(subs, Subscription{Topic: cfg.Topic, QoS: byte(qos), Component: cfg.Component})
	}
	return b, subs, nil
}

// number accepts JSON numbers and numeric strings.
func number(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
		Trigger(trigger.TypeMQTT).Detail(format, args...).Build()
}

// Trigger is the MQTT trigger.
type Trigger struct{}

// New returns the MQTT trigger.
func New() *Trigger { return &Trigger{} }

// Type implements trigger.Trigger.
func (t *Trigger) Type() string { return trigger.TypeMQTT }

// Start prepares the subscribed components, connects to the broker and
// subscribes. The task ends with an error if the connection is lost.
func (t *Trigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	log := rc.TriggerLogger(trigger.TypeMQTT)

	broker, subs, err := Config(rc.App)
	if err != nil {
		return nil, err
	}
	for _, id := range trigger.ComponentIDs(rc.App, trigger.TypeMQTT) {
		if err := rc.Components.Prepare(ctx, id); err != nil {
			return nil, err
		}
	}

	lost := make(chan error, 1)
	opts := clientOptions(broker, rc.App.Name(), rc.Config.Hostname)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
			Trigger(trigger.TypeMQTT).Detail("connect to %s", broker.Address).Cause(err).Build()
	}

	var running inflight
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	for _, sub := range subs {
		sub := sub
		handler := func(_ mqtt.Client, msg mqtt.Message) {
			if !running.enter() {
				return
			}
			defer running.leave()
			err := rc.Components.Run(runCtx, trigger.Call{
				Component: sub.Component,
				Stdin:     bytes.NewReader(msg.Payload()),
				Stdout:    rc.Stdout,
				Env:       map[string]string{"SPIN_MQTT_TOPIC": msg.Topic()},
			})
			if err != nil && runCtx.Err() == nil {
				log.Error("component failed",
					zap.String("component", sub.Component),
					zap.String("topic", msg.Topic()),
					zap.Error(err))
			}
		}
		if err := wait(ctx, client.Subscribe(sub.Topic, sub.QoS, handler)); err != nil {
			stop()
			client.Disconnect(disconnectQuiesce)
			return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
				Trigger(trigger.TypeMQTT).Detail("subscribe to %s", sub.Topic).Cause(err).Build()
		}
		log.Info("subscribed", zap.String("topic", sub.Topic), zap.Uint8("qos", sub.QoS), zap.String("component", sub.Component))
	}

	return func(ctx context.Context) error {
		defer func() {
			stop()
			client.Disconnect(disconnectQuiesce)
			running.close()
		}()

		// paho does not reconnect when auto reconnect is off, so a lost
		// connection ends the trigger.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-lost:
			return errors.New(errors.PhaseRun, errors.KindIO).
				Trigger(trigger.TypeMQTT).Detail("connection to %s lost", broker.Address).Cause(err).Build()
		}
	}, nil
}

// inflight tracks running message handlers. Handlers delivered after close
// are dropped, so close never races a late enter.
type inflight struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (f *inflight) enter() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) leave() {
	f.wg.Done()
}

// close stops admitting handlers and waits for the running ones.
func (f *inflight) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}

// clientOptions builds the paho options. The client id carries the instance
// hostname so replicas of one app do not take over each other's session.
func clientOptions(b Broker, appName, hostname string) *mqtt.ClientOptions {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(b.Address).
		SetClientID(fmt.Sprintf("spin-%s-%s-%d", appName, hostname, os.Getpid())).
		SetKeepAlive(b.KeepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)
	if b.Username != "" {
		opts.SetUsername(b.Username)
		opts.SetPassword(b.Password)
	}
	return opts
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
