// Package registry holds the static set of monitored resources for a run.
// The registry is built once from configuration, fails fast on invalid
// identifiers, and is read-only afterwards, so concurrent pollers can share
// it without locking.
package registry

import (
	"fmt"
	"strings"

	"github.com/queuepulse/queuepulse/internal/config"
)

// Kind distinguishes the resource types the monitor knows how to poll.
type Kind string

const (
	KindQueue    Kind = "queue"
	KindDLQ      Kind = "dlq"
	KindFunction Kind = "function"
)

// MonitoredResource identifies one queue, DLQ or function. ProviderHandle is
// what the provider client needs to address it: a queue URL for queues and
// DLQs, the function name for functions. Immutable during a run.
type MonitoredResource struct {
	ID             string
	Kind           Kind
	ProviderHandle string
}

// ValidationError reports invalid resource identifiers found at
// construction. It is fatal: the monitor must not start with a broken
// resource list.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid resource configuration: %s", strings.Join(e.Problems, "; "))
}

// Registry is the immutable set of monitored resources.
type Registry struct {
	resources []MonitoredResource
	byID      map[string]MonitoredResource
}

// New builds the registry from configuration. Returns a ValidationError when
// any resource name is empty or duplicated across all kinds, or when nothing
// is configured at all.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{byID: make(map[string]MonitoredResource)}
	var problems []string

	add := func(res config.Resource, kind Kind) {
		name := strings.TrimSpace(res.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("empty %s name", kind))
			return
		}
		if _, dup := r.byID[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate resource id %q", name))
			return
		}
		handle := res.Handle
		if handle == "" {
			switch kind {
			case KindQueue, KindDLQ:
				handle = cfg.QueueURL(name)
			default:
				handle = name
			}
		}
		mr := MonitoredResource{ID: name, Kind: kind, ProviderHandle: handle}
		r.byID[name] = mr
		r.resources = append(r.resources, mr)
	}

	for _, q := range cfg.Queues {
		add(q, KindQueue)
	}
	for _, q := range cfg.DLQs {
		add(q, KindDLQ)
	}
	for _, f := range cfg.Functions {
		add(f, KindFunction)
	}

	if len(r.resources) == 0 && len(problems) == 0 {
		problems = append(problems, "no queues, DLQs or functions configured")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return r, nil
}

// All returns every monitored resource in registration order.
func (r *Registry) All() []MonitoredResource {
	out := make([]MonitoredResource, len(r.resources))
	copy(out, r.resources)
	return out
}

// QueueLike returns queues and DLQs: everything tracked through queue-depth
// sampling.
func (r *Registry) QueueLike() []MonitoredResource {
	return r.filter(func(m MonitoredResource) bool {
		return m.Kind == KindQueue || m.Kind == KindDLQ
	})
}

// DLQs returns only the dead-letter queues.
func (r *Registry) DLQs() []MonitoredResource {
	return r.filter(func(m MonitoredResource) bool { return m.Kind == KindDLQ })
}

// Functions returns only the monitored functions.
func (r *Registry) Functions() []MonitoredResource {
	return r.filter(func(m MonitoredResource) bool { return m.Kind == KindFunction })
}

// Lookup returns the resource with the given id.
func (r *Registry) Lookup(id string) (MonitoredResource, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Len returns the total number of monitored resources.
func (r *Registry) Len() int { return len(r.resources) }

func (r *Registry) filter(keep func(MonitoredResource) bool) []MonitoredResource {
	var out []MonitoredResource
	for _, m := range r.resources {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
