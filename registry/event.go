package registry

import (
	"context"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

//go:generate mockgen -package mocks -destination mocks/registry.go . Sink,Store

type EventKind uint8

const (
	ClaimCreated EventKind = iota + 1
	ClaimRevoked
	ClaimTransfered
)

var eventKindNames = map[EventKind]string{
	ClaimCreated:    "ClaimCreated",
	ClaimRevoked:    "ClaimRevoked",
	ClaimTransfered: "ClaimTransfered",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	if _, ok := eventKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is a notification emitted after a successful mutation.
// For ClaimTransfered, Owner is the previous owner and Receiver the new one.
// Receiver is zero for the other kinds.
type Event struct {
	Kind        EventKind   `json:"kind"`
	Owner       Identity    `json:"owner"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Receiver    Identity    `json:"receiver"`
}

func (e *Event) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact8(enc, uint8(e.Kind))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, e.Owner[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, e.Fingerprint, MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, e.Receiver[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Event) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		e.Kind = EventKind(field)
	}
	{
		n, err := scale.DecodeByteArray(dec, e.Owner[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
		e.Fingerprint = field
	}
	{
		n, err := scale.DecodeByteArray(dec, e.Receiver[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Sink receives events. Emit is fire-and-forget: it is called while the
// registry holds its lock and must not call back into the registry.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}
