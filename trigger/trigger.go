package trigger

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/config"
)

// Task is a running trigger. It returns when the trigger stops on its own
// or ctx is cancelled.
type Task func(ctx context.Context) error

// Trigger is one execution model. Start binds the trigger's resources
// (listeners, connections, subscriptions) and returns the task that serves
// them. A Start error means nothing is left running.
type Trigger interface {
	Type() string
	Start(ctx context.Context, rc *RunContext) (Task, error)
}

// RunContext is what every trigger receives. The app is shared and must
// not be modified.
type RunContext struct {
	App        *app.App
	Components *ComponentLoader
	Variables  app.Variables
	Logger     *zap.Logger
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Config     config.Config
}

// TriggerLogger returns the run logger scoped to a trigger type.
func (rc *RunContext) TriggerLogger(triggerType string) *zap.Logger {
	l := rc.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("trigger", triggerType))
}
