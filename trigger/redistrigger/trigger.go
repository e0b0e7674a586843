// Package redistrigger runs components for messages published on Redis
// channels. The message payload is the component's stdin.
package redistrigger

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/trigger"
)

// Subscription is one channel on one server and the components it feeds.
type Subscription struct {
	Address    string
	Channel    string
	Components []string
}

type triggerConfig struct {
	Address   string `json:"address"`
	Channel   string `json:"channel"`
	Component string `json:"component"`
}

// Subscriptions groups the app's redis triggers by server and channel. A
// trigger without an address uses the application-level address.
func Subscriptions(a *app.App) ([]Subscription, error) {
	defaultAddr, _ := a.TriggerMetadata(trigger.TypeRedis)["address"].(string)

	type key struct{ addr, channel string }
	index := make(map[key]int)
	var out []Subscription
	for _, t := range a.TriggersOfType(trigger.TypeRedis) {
		var cfg triggerConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return nil, err
		}
		addr := cfg.Address
		if addr == "" {
			addr = defaultAddr
		}
		if addr == "" {
			return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
				Trigger(trigger.TypeRedis).Detail("trigger %s has no redis address", t.ID).Build()
		}
		if cfg.Channel == "" || cfg.Component == "" {
			return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
				Trigger(trigger.TypeRedis).Detail("trigger %s needs channel and component", t.ID).Build()
		}

		k := key{addr, cfg.Channel}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Subscription{Address: addr, Channel: cfg.Channel})
		}
		out[i].Components = append(out[i].Components, cfg.Component)
	}
	return out, nil
}

// Trigger is the Redis pub/sub trigger.
type Trigger struct{}

// New returns the Redis trigger.
func New() *Trigger { return &Trigger{} }

// Type implements trigger.Trigger.
func (t *Trigger) Type() string { return trigger.TypeRedis }

type server struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	address  string
	channels map[string][]string
}

// Start checks every server with PING, prepares the subscribed components
// and subscribes to the configured channels.
func (t *Trigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	log := rc.TriggerLogger(trigger.TypeRedis)

	subs, err := Subscriptions(rc.App)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[string]*server)
	var servers []*server
	closeAll := func() {
		for _, s := range servers {
			if s.pubsub != nil {
				s.pubsub.Close()
			}
			s.client.Close()
		}
	}

	for _, sub := range subs {
		s, ok := byAddr[sub.Address]
		if !ok {
			opts, err := redis.ParseURL(sub.Address)
			if err != nil {
				closeAll()
				return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
					Trigger(trigger.TypeRedis).Detail("parse redis address").Cause(err).Build()
			}
			s = &server{client: redis.NewClient(opts), address: sub.Address, channels: make(map[string][]string)}
			byAddr[sub.Address] = s
			servers = append(servers, s)
		}
		s.channels[sub.Channel] = append(s.channels[sub.Channel], sub.Components...)
	}

	for _, s := range servers {
		if err := s.client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
				Trigger(trigger.TypeRedis).Detail("connect to %s", redactAddress(s.address)).Cause(err).Build()
		}
	}

	for _, id := range trigger.ComponentIDs(rc.App, trigger.TypeRedis) {
		if err := rc.Components.Prepare(ctx, id); err != nil {
			closeAll()
			return nil, err
		}
	}

	for _, s := range servers {
		channels := make([]string, 0, len(s.channels))
		for ch := range s.channels {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		s.pubsub = s.client.Subscribe(ctx, channels...)
		if _, err := s.pubsub.Receive(ctx); err != nil {
			closeAll()
			return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
				Trigger(trigger.TypeRedis).Detail("subscribe on %s", redactAddress(s.address)).Cause(err).Build()
		}
		log.Info("subscribed", zap.String("address", redactAddress(s.address)), zap.Strings("channels", channels))
	}

	return func(ctx context.Context) error {
		defer closeAll()

		errCh := make(chan error, len(servers))
		var wg sync.WaitGroup
		for _, s := range servers {
			wg.Add(1)
			go func(s *server) {
				defer wg.Done()
				errCh <- consume(ctx, s, rc, log)
			}(s)
		}

		select {
		case <-ctx.Done():
			closeAll()
			wg.Wait()
			return ctx.Err()
		case err := <-errCh:
			closeAll()
			wg.Wait()
			return err
		}
	}, nil
}

// consume delivers messages until ctx is done or the subscription closes.
// Component failures are logged; they do not stop the trigger.
func consume(ctx context.Context, s *server, rc *trigger.RunContext, log *zap.Logger) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New(errors.PhaseRun, errors.KindIO).Trigger(trigger.TypeRedis).
					Detail("subscription on %s closed", redactAddress(s.address)).Build()
			}
			for _, component := range s.channels[msg.Channel] {
				inflight.Add(1)
				go func(component string, payload string) {
					defer inflight.Done()
					err := rc.Components.Run(ctx, trigger.Call{
						Component: component,
						Stdin:     bytes.NewReader([]byte(payload)),
						Stdout:    rc.Stdout,
						Env:       map[string]string{"SPIN_REDIS_CHANNEL": msg.Channel},
					})
					if err != nil && ctx.Err() == nil {
						log.Error("component failed",
							zap.String("component", component),
							zap.String("channel", msg.Channel),
							zap.Error(err))
					}
				}(component, msg.Payload)
			}
		}
	}
}

// redactAddress drops credentials from a redis URL for logging.
func redactAddress(addr string) string {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return "<invalid>"
	}
	return opts.Addr
}
