// Package events delivers registry notifications, stamped with their
// position on the timeline, to a set of sinks.
package events

import (
	"context"
	"fmt"

	"github.com/spacemeshos/poe/registry"
)

//go:generate mockgen -package mocks -destination mocks/events.go . Sink

// Record is an event at a position on the timeline. Index orders the
// events emitted inside one block.
type Record struct {
	Block registry.BlockNumber `json:"block"`
	Index uint32               `json:"index"`
	Event registry.Event       `json:"event"`
}

func (r Record) String() string {
	return fmt.Sprintf("%d/%d %s %s", r.Block, r.Index, r.Event.Kind, r.Event.Fingerprint)
}

// Less orders records by (block, index).
func (r Record) Less(other Record) bool {
	if r.Block != other.Block {
		return r.Block < other.Block
	}
	return r.Index < other.Index
}

// Sink publishes records somewhere. Publish receives the records of one
// block in index order.
type Sink interface {
	Name() string
	Publish(ctx context.Context, records ...Record) error
	Close() error
}
