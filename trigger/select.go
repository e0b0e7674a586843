package trigger

import (
	"sort"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
)

// Trigger type tags the shim can run.
const (
	TypeHTTP    = "http"
	TypeRedis   = "redis"
	TypeSQS     = "sqs"
	TypeMQTT    = "mqtt"
	TypeCommand = "command"
)

var supported = []string{TypeHTTP, TypeRedis, TypeSQS, TypeMQTT, TypeCommand}

// Supported returns the supported trigger types.
func Supported() []string {
	return append([]string(nil), supported...)
}

// IsSupported reports whether triggerType can be launched.
func IsSupported(triggerType string) bool {
	for _, t := range supported {
		if t == triggerType {
			return true
		}
	}
	return false
}

// Set is a set of trigger type tags.
type Set map[string]struct{}

// NewSet returns a set holding types.
func NewSet(types ...string) Set {
	s := make(Set, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts t.
func (s Set) Add(t string) {
	s[t] = struct{}{}
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Select collects the distinct trigger types the app declares. The first
// unsupported type fails the selection.
func Select(a *app.App) (Set, error) {
	set := make(Set)
	for _, t := range a.Triggers {
		if !IsSupported(t.TriggerType) {
			return nil, errors.UnsupportedTrigger(t.TriggerType, supported)
		}
		set.Add(t.TriggerType)
	}
	return set, nil
}
