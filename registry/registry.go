package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poe",
	Subsystem: "registry",
	Name:      "calls_total",
	Help:      "Number of registry calls by call and result",
}, []string{"call", "result"})

// Registry holds the fingerprint to record mapping and enforces its
// invariants on every mutation. One mutation runs at a time.
type Registry struct {
	maxClaimLength int

	mu    sync.RWMutex
	store Store
	sink  Sink
}

type newRegistryOptions struct {
	store Store
	sink  Sink
}

type OptionFunc func(*newRegistryOptions)

// WithStore sets the backing store. Defaults to NewMemoryStore.
func WithStore(store Store) OptionFunc {
	return func(o *newRegistryOptions) {
		o.store = store
	}
}

// WithSink sets the receiver of emitted events. Defaults to discarding them.
func WithSink(sink Sink) OptionFunc {
	return func(o *newRegistryOptions) {
		o.sink = sink
	}
}

func New(maxClaimLength int, opts ...OptionFunc) (*Registry, error) {
	if maxClaimLength <= 0 || maxClaimLength > MaxFingerprintSize {
		return nil, fmt.Errorf("%w: got %d (limit %d)", ErrInvalidMaxClaimLength, maxClaimLength, MaxFingerprintSize)
	}
	options := newRegistryOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.store == nil {
		options.store = NewMemoryStore()
	}
	if options.sink == nil {
		options.sink = discardSink{}
	}
	return &Registry{
		maxClaimLength: maxClaimLength,
		store:          options.store,
		sink:           options.sink,
	}, nil
}

func (r *Registry) MaxClaimLength() int {
	return r.maxClaimLength
}

// Create claims fingerprint for caller at block now.
func (r *Registry) Create(ctx context.Context, caller Identity, fingerprint Fingerprint, now BlockNumber) (err error) {
	defer observe("create", &err)
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found, err := r.lookup(ctx, fingerprint)
	switch {
	case err != nil:
		return err
	case found:
		return ErrAlreadyClaimed
	case len(fingerprint) > r.maxClaimLength:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(fingerprint), r.maxClaimLength)
	}

	fingerprint = clone(fingerprint)
	if err := r.store.Put(ctx, fingerprint, Record{Owner: caller, RegisteredAt: now}); err != nil {
		return fmt.Errorf("storing claim %s: %w", fingerprint, err)
	}
	r.sink.Emit(ctx, Event{Kind: ClaimCreated, Owner: caller, Fingerprint: fingerprint})
	return nil
}

// Revoke removes the claim on fingerprint. Only the owner may revoke.
func (r *Registry) Revoke(ctx context.Context, caller Identity, fingerprint Fingerprint) (err error) {
	defer observe("revoke", &err)
	r.mu.Lock()
	defer r.mu.Unlock()

	record, found, err := r.lookup(ctx, fingerprint)
	switch {
	case err != nil:
		return err
	case !found:
		return ErrNoSuchProof
	case record.Owner != caller:
		return ErrNotOwner
	}

	fingerprint = clone(fingerprint)
	if err := r.store.Delete(ctx, fingerprint); err != nil {
		return fmt.Errorf("deleting claim %s: %w", fingerprint, err)
	}
	r.sink.Emit(ctx, Event{Kind: ClaimRevoked, Owner: caller, Fingerprint: fingerprint})
	return nil
}

// Transfer hands the claim on fingerprint over to receiver and re-stamps it
// with now. The caller may transfer to itself.
func (r *Registry) Transfer(
	ctx context.Context,
	caller Identity,
	fingerprint Fingerprint,
	receiver Identity,
	now BlockNumber,
) (err error) {
	defer observe("transfer", &err)
	r.mu.Lock()
	defer r.mu.Unlock()

	record, found, err := r.lookup(ctx, fingerprint)
	switch {
	case err != nil:
		return err
	case !found:
		return ErrNotExists
	case record.Owner != caller:
		return ErrNotOwner
	}

	fingerprint = clone(fingerprint)
	if err := r.store.Put(ctx, fingerprint, Record{Owner: receiver, RegisteredAt: now}); err != nil {
		return fmt.Errorf("storing claim %s: %w", fingerprint, err)
	}
	r.sink.Emit(ctx, Event{Kind: ClaimTransfered, Owner: caller, Fingerprint: fingerprint, Receiver: receiver})
	return nil
}

// Query returns the current record of fingerprint, if claimed.
func (r *Registry) Query(ctx context.Context, fingerprint Fingerprint) (Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(ctx, fingerprint)
}

// Count returns the number of claims.
func (r *Registry) Count(ctx context.Context) (count int, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	err = r.store.Iterate(ctx, func(Fingerprint, Record) error {
		count++
		return nil
	})
	return count, err
}

func (r *Registry) lookup(ctx context.Context, fingerprint Fingerprint) (Record, bool, error) {
	record, err := r.store.Get(ctx, fingerprint)
	switch {
	case errors.Is(err, ErrNotFound):
		return Record{}, false, nil
	case err != nil:
		return Record{}, false, fmt.Errorf("loading claim %s: %w", fingerprint, err)
	}
	return record, true, nil
}

func clone(fingerprint Fingerprint) Fingerprint {
	return append(Fingerprint{}, fingerprint...)
}

func observe(call string, err *error) {
	callsMetric.WithLabelValues(call, resultLabel(*err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrNoSuchProof):
		return "no_such_proof"
	case errors.Is(err, ErrNotExists):
		return "not_exists"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	default:
		return "error"
	}
}
