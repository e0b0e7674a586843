// Package commandtrigger runs components once as WASI commands, with the
// container's arguments and standard streams.
package commandtrigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/trigger"
)

// Trigger is the command trigger.
type Trigger struct{}

// New returns the command trigger.
func New() *Trigger { return &Trigger{} }

// Type implements trigger.Trigger.
func (t *Trigger) Type() string { return trigger.TypeCommand }

// Start prepares every command component. The task runs them in
// declaration order and stops at the first failure; a non-zero exit is
// returned as *engine.ExitError.
func (t *Trigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	log := rc.TriggerLogger(trigger.TypeCommand)

	var components []string
	for _, tr := range rc.App.TriggersOfType(trigger.TypeCommand) {
		id := tr.ComponentID()
		if id == "" {
			return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
				Trigger(trigger.TypeCommand).Detail("trigger %s has no component", tr.ID).Build()
		}
		components = append(components, id)
	}
	for _, id := range trigger.ComponentIDs(rc.App, trigger.TypeCommand) {
		if err := rc.Components.Prepare(ctx, id); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) error {
		for _, id := range components {
			log.Debug("running command", zap.String("component", id), zap.Strings("args", rc.Config.Args))
			err := rc.Components.Run(ctx, trigger.Call{
				Component: id,
				Args:      rc.Config.Args,
				Stdin:     rc.Stdin,
				Stdout:    rc.Stdout,
				Stderr:    rc.Stderr,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, nil
}
