package seda

import (
	"context"
	"errors"
	"fmt"

	"github.com/squadracorsepolito/seda/message"
)

// Router is a processor forwarding each message to the stage
// mapped to its kind, or to a fallback stage.
type Router struct {
	routes   map[string]string
	fallback string

	targets        map[string]*Stage
	fallbackTarget *Stage
}

// NewRouter returns a router for the given kind to stage name routes.
// An empty fallback means that unrouted messages fail with [ErrNoRoute].
func NewRouter(routes map[string]string, fallback string) *Router {
	r := &Router{
		routes:   make(map[string]string, len(routes)),
		fallback: fallback,
	}

	for kind, stage := range routes {
		r.routes[kind] = stage
	}

	return r
}

// Construct resolves the target stages.
// It fails with [ErrStageNotFound] for every target that is not registered.
func (r *Router) Construct(d *Dispatcher) error {
	targets := make(map[string]*Stage, len(r.routes))
	var errs []error

	for kind, name := range r.routes {
		s, ok := d.Stage(name)
		if !ok {
			errs = append(errs, fmt.Errorf("route %q: %w: %q", kind, ErrStageNotFound, name))
			continue
		}
		targets[kind] = s
	}

	var fallbackTarget *Stage
	if r.fallback != "" {
		s, ok := d.Stage(r.fallback)
		if !ok {
			errs = append(errs, fmt.Errorf("fallback: %w: %q", ErrStageNotFound, r.fallback))
		}
		fallbackTarget = s
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.targets = targets
	r.fallbackTarget = fallbackTarget

	return nil
}

// Process forwards the message to its target stage.
func (r *Router) Process(_ context.Context, msg message.Message, d *Dispatcher) error {
	kind := message.KindOf(msg)

	if r.targets == nil {
		// Not constructed, resolve by name on every message
		name, ok := r.routes[kind]
		if !ok {
			name = r.fallback
		}
		if name == "" {
			return fmt.Errorf("%w: %q", ErrNoRoute, kind)
		}
		return d.DispatchTo(name, msg)
	}

	if s, ok := r.targets[kind]; ok {
		return s.AddInput(msg)
	}

	if r.fallbackTarget != nil {
		return r.fallbackTarget.AddInput(msg)
	}

	return fmt.Errorf("%w: %q", ErrNoRoute, kind)
}
