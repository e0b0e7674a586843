// Package trigger selects and supervises the execution models an
// application declares.
//
// Select turns the app's trigger declarations into a Set of distinct types,
// failing on the first type outside Supported. The Supervisor then starts
// one Trigger per type and races their tasks:
//
//	set, err := trigger.Select(a)
//	sup := trigger.NewSupervisor(logger, httptrigger.New(), redistrigger.New())
//	outcome, err := sup.Run(ctx, rc, set)
//
// The first task to finish decides the outcome. Every other task is
// cancelled through the shared context and joined before Run returns, so
// no trigger outlives the call.
//
// Trigger implementations live in subpackages and run components through
// the RunContext's ComponentLoader.
package trigger
