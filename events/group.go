package events

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Group fans records out to several sinks at once.
// A failing sink does not stop delivery to the others.
type Group struct {
	sinks []Sink
}

var _ Sink = (*Group)(nil)

// NewGroup ignores nil sinks and sinks whose name is already taken.
func NewGroup(sinks ...Sink) *Group {
	g := &Group{}
	seen := make(map[string]struct{}, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if _, ok := seen[s.Name()]; ok {
			continue
		}
		seen[s.Name()] = struct{}{}
		g.sinks = append(g.sinks, s)
	}
	return g
}

func (g *Group) Name() string {
	return "group"
}

// Names lists the sinks in the group.
func (g *Group) Names() []string {
	names := make([]string, 0, len(g.sinks))
	for _, s := range g.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (g *Group) Publish(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	var wg multierror.Group
	for _, s := range g.sinks {
		wg.Go(func() error {
			if err := s.Publish(ctx, records...); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return wg.Wait().ErrorOrNil()
}

func (g *Group) Close() error {
	var result *multierror.Error
	for _, s := range g.sinks {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", s.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
