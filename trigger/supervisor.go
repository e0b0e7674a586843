package trigger

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/errors"
)

// Outcome names the trigger whose task finished first.
type Outcome struct {
	TriggerType string
}

type result struct {
	err         error
	triggerType string
}

// Supervisor launches one task per trigger type and reports whichever
// finishes first.
type Supervisor struct {
	triggers map[string]Trigger
	logger   *zap.Logger
}

// NewSupervisor creates a supervisor that can launch the given triggers.
// A nil logger disables logging.
func NewSupervisor(logger *zap.Logger, triggers ...Trigger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{triggers: make(map[string]Trigger, len(triggers)), logger: logger}
	for _, t := range triggers {
		s.triggers[t.Type()] = t
	}
	return s
}

// Run launches every trigger type in set and waits for the first task to
// finish. All other tasks are then cancelled and joined before Run returns.
//
// Triggers start in sorted order and each task runs as soon as its trigger
// has started. A start failure cancels and joins the tasks already running
// and no further triggers are started.
//
// A first task that returns nil is a clean exit. A first task that returns
// an error yields a runtime error tagged with its trigger type, except that
// cancellation of the parent context is returned as context.Canceled.
func (s *Supervisor) Run(ctx context.Context, rc *RunContext, set Set) (Outcome, error) {
	if set.Len() == 0 {
		return Outcome{}, errors.InvalidInput(errors.PhaseLaunch, "no triggers to launch")
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, set.Len())
	var wg sync.WaitGroup

	abort := func() {
		cancel()
		wg.Wait()
	}

	for _, typ := range set.Sorted() {
		t, ok := s.triggers[typ]
		if !ok {
			abort()
			return Outcome{TriggerType: typ}, errors.TriggerLaunch(typ, fmt.Errorf("no executor registered"))
		}

		log := s.logger.With(zap.String("trigger", typ))
		log.Info("starting trigger")

		task, err := t.Start(runCtx, rc)
		if err != nil {
			log.Error("trigger failed to start", zap.Error(err))
			abort()
			return Outcome{TriggerType: typ}, errors.TriggerLaunch(typ, err)
		}

		wg.Add(1)
		go func(typ string, task Task) {
			defer wg.Done()
			results <- result{triggerType: typ, err: task(runCtx)}
		}(typ, task)
	}

	first := <-results
	s.logger.Info("trigger exited", zap.String("trigger", first.triggerType), zap.Error(first.err))

	cancel()
	wg.Wait()
	close(results)
	for r := range results {
		if r.err != nil && !stderrors.Is(r.err, context.Canceled) {
			s.logger.Warn("trigger stopped with error", zap.String("trigger", r.triggerType), zap.Error(r.err))
		}
	}

	outcome := Outcome{TriggerType: first.triggerType}
	switch {
	case first.err == nil:
		return outcome, nil
	case ctx.Err() != nil && stderrors.Is(first.err, ctx.Err()):
		return outcome, ctx.Err()
	default:
		return outcome, errors.TriggerRuntime(first.triggerType, first.err)
	}
}
