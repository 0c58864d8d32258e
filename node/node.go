// Package node hosts a Registry. It authenticates signed transactions,
// orders them on a single timeline, assigns block numbers and keeps every
// identity's nonce. Registry events are stamped with their position and
// handed to an events.Sink.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/signing"
)

var (
	ErrBadNonce    = errors.New("bad nonce")
	ErrUnknownCall = errors.New("unknown call")
	ErrStopped     = errors.New("node is not running")
)

var (
	transactionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poe",
		Subsystem: "node",
		Name:      "transactions_total",
		Help:      "Number of submitted transactions by outcome",
	}, []string{"outcome"})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "poe",
		Subsystem: "node",
		Name:      "apply_duration_seconds",
		Help:      "Time to apply one transaction",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	heightMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "poe",
		Subsystem: "node",
		Name:      "height",
		Help:      "Block of the last included transaction",
	})
)

var tracer = otel.Tracer("github.com/spacemeshos/poe/node")

type request struct {
	ctx  context.Context
	tx   signing.Signed[Tx]
	done chan result
}

type result struct {
	receipt *Receipt
	err     error
}

// Node applies transactions to a Registry strictly one at a time.
type Node struct {
	registry  *registry.Registry
	state     State
	publisher events.Sink
	timeline  Timeline
	clock     func() time.Time

	requests chan *request
	stopped  chan struct{}
	stopOnce sync.Once

	// Position of the last published record. Only touched by Run.
	lastBlock registry.BlockNumber
	nextIndex uint32
}

type newNodeOptions struct {
	timeline   Timeline
	clock      func() time.Time
	lastRecord *events.Record
}

type OptionFunc func(*newNodeOptions)

func WithTimeline(timeline Timeline) OptionFunc {
	return func(o *newNodeOptions) {
		o.timeline = timeline
	}
}

func WithClock(clock func() time.Time) OptionFunc {
	return func(o *newNodeOptions) {
		o.clock = clock
	}
}

// WithLastRecord tells the node where the event log ended before a restart,
// so indices inside a block keep growing.
func WithLastRecord(record events.Record) OptionFunc {
	return func(o *newNodeOptions) {
		o.lastRecord = &record
	}
}

// New creates a node driving reg. The registry must be created with
// registry.WithSink(node.Collector()) for its events to reach publisher.
func New(reg *registry.Registry, state State, publisher events.Sink, opts ...OptionFunc) *Node {
	options := newNodeOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	if publisher == nil {
		publisher = events.NewGroup()
	}
	n := &Node{
		registry:  reg,
		state:     state,
		publisher: publisher,
		timeline:  options.timeline,
		clock:     options.clock,
		requests:  make(chan *request),
		stopped:   make(chan struct{}),
	}
	if options.lastRecord != nil {
		n.lastBlock = options.lastRecord.Block
		n.nextIndex = options.lastRecord.Index + 1
	}
	return n
}

func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Run applies submitted transactions until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	defer n.stopOnce.Do(func() { close(n.stopped) })
	log := logging.FromContext(ctx).Named("node")
	ctx = logging.NewContext(ctx, log)

	height, err := n.state.Height(ctx)
	if err != nil {
		return fmt.Errorf("loading height: %w", err)
	}
	heightMetric.Set(float64(height))
	log.Info("node started", zap.Uint64("height", uint64(height)), zap.Object("timeline", n.timeline))

	for {
		select {
		case <-ctx.Done():
			log.Info("node stopped")
			return nil
		case req := <-n.requests:
			if err := req.ctx.Err(); err != nil {
				req.done <- result{err: err}
				continue
			}
			start := time.Now()
			receipt, err := n.apply(ctx, req.tx)
			applyDuration.Observe(time.Since(start).Seconds())
			transactionsMetric.WithLabelValues(outcome(receipt, err)).Inc()
			req.done <- result{receipt: receipt, err: err}
		}
	}
}

// Submit hands tx to the Run loop and waits for it to be applied.
// A transaction the registry rejects, or fails to store, is still
// included: the receipt is returned together with the error. Transactions with a wrong nonce
// or an unknown call are not included and have no receipt.
// If ctx ends after the node picked the transaction up, it may still be
// included.
func (n *Node) Submit(ctx context.Context, tx signing.Signed[Tx]) (*Receipt, error) {
	req := &request{ctx: ctx, tx: tx, done: make(chan result, 1)}
	select {
	case n.requests <- req:
	case <-n.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) Height(ctx context.Context) (registry.BlockNumber, error) {
	return n.state.Height(ctx)
}

func (n *Node) Nonce(ctx context.Context, id registry.Identity) (uint64, error) {
	return n.state.Nonce(ctx, id)
}

func (n *Node) apply(ctx context.Context, signed signing.Signed[Tx]) (receipt *Receipt, err error) {
	tx := signed.Data()
	caller := signing.Identity(signed)
	ctx, span := tracer.Start(ctx, "apply", trace.WithAttributes(
		attribute.String("call", tx.Call.String()),
		attribute.String("caller", caller.String()),
		attribute.String("fingerprint", tx.Fingerprint.String()),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := logging.FromContext(ctx).With(
		zap.Stringer("call", tx.Call),
		zap.Stringer("caller", caller),
		zap.Stringer("fingerprint", tx.Fingerprint),
	)

	if _, ok := callNames[tx.Call]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCall, uint8(tx.Call))
	}
	nonce, err := n.state.Nonce(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("loading nonce: %w", err)
	}
	if tx.Nonce != nonce {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrBadNonce, tx.Nonce, nonce)
	}
	last, err := n.state.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading height: %w", err)
	}
	block := n.timeline.Next(last, n.clock())
	span.SetAttributes(attribute.Int64("block", int64(block)))

	// The nonce is consumed whatever the registry decides. A failed commit
	// leaves the registry untouched.
	if err := n.state.Commit(ctx, block, caller, nonce+1); err != nil {
		log.Error("failed to commit chain state", zap.Uint64("block", uint64(block)), zap.Error(err))
		return nil, fmt.Errorf("committing chain state: %w", err)
	}
	heightMetric.Set(float64(block))

	buf := &eventBuffer{}
	callErr := n.dispatch(withBuffer(ctx, buf), caller, tx, block)

	receipt = &Receipt{
		Block:  block,
		Caller: caller,
		Nonce:  nonce,
		Events: n.stamp(block, buf.events),
	}
	if len(receipt.Events) > 0 {
		if err := n.publisher.Publish(ctx, receipt.Events...); err != nil {
			log.Warn("failed to publish events", zap.Error(err))
		}
	}
	switch {
	case callErr != nil && !registry.IsRejection(callErr):
		log.Error("transaction failed", zap.Uint64("block", uint64(block)), zap.Error(callErr))
	case callErr != nil:
		log.Debug("transaction rejected", zap.Uint64("block", uint64(block)), zap.Error(callErr))
	default:
		log.Debug("transaction applied", zap.Uint64("block", uint64(block)))
	}
	return receipt, callErr
}

func (n *Node) dispatch(ctx context.Context, caller registry.Identity, tx *Tx, block registry.BlockNumber) error {
	switch tx.Call {
	case CallCreate:
		return n.registry.Create(ctx, caller, tx.Fingerprint, block)
	case CallRevoke:
		return n.registry.Revoke(ctx, caller, tx.Fingerprint)
	case CallTransfer:
		return n.registry.Transfer(ctx, caller, tx.Fingerprint, tx.Receiver, block)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCall, uint8(tx.Call))
	}
}

func (n *Node) stamp(block registry.BlockNumber, evts []registry.Event) []events.Record {
	if len(evts) == 0 {
		return nil
	}
	if block != n.lastBlock {
		n.lastBlock = block
		n.nextIndex = 0
	}
	records := make([]events.Record, 0, len(evts))
	for _, e := range evts {
		records = append(records, events.Record{Block: block, Index: n.nextIndex, Event: e})
		n.nextIndex++
	}
	return records
}

func outcome(receipt *Receipt, err error) string {
	switch {
	case err == nil:
		return "applied"
	case receipt != nil && registry.IsRejection(err):
		return "rejected"
	case errors.Is(err, ErrBadNonce):
		return "bad_nonce"
	case errors.Is(err, ErrUnknownCall):
		return "unknown_call"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
