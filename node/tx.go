package node

import (
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/registry"
)

type Call uint8

const (
	CallCreate Call = iota + 1
	CallRevoke
	CallTransfer
)

var callNames = map[Call]string{
	CallCreate:   "create",
	CallRevoke:   "revoke",
	CallTransfer: "transfer",
}

func (c Call) String() string {
	if name, ok := callNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Call(%d)", uint8(c))
}

func (c Call) MarshalText() ([]byte, error) {
	if _, ok := callNames[c]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCall, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Call) UnmarshalText(text []byte) error {
	for call, name := range callNames {
		if name == string(text) {
			*c = call
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCall, text)
}

// Tx is a registry call made by the identity that signs it.
// Receiver is only meaningful for CallTransfer.
type Tx struct {
	Call        Call                 `json:"call"`
	Fingerprint registry.Fingerprint `json:"fingerprint"`
	Receiver    registry.Identity    `json:"receiver"`
	// Nonce must equal the number of the signer's transactions included so far.
	Nonce uint64 `json:"nonce"`
}

func (t *Tx) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact8(enc, uint8(t.Call))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, t.Fingerprint, registry.MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, t.Receiver[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, t.Nonce)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *Tx) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		t.Call = Call(field)
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, registry.MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
		t.Fingerprint = field
	}
	{
		n, err := scale.DecodeByteArray(dec, t.Receiver[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		t.Nonce = field
	}
	return total, nil
}

// Receipt describes an included transaction. A transaction the registry
// rejected is included too: it has a receipt without events.
type Receipt struct {
	Block  registry.BlockNumber `json:"block"`
	Caller registry.Identity    `json:"caller"`
	Nonce  uint64               `json:"nonce"`
	Events []events.Record      `json:"events"`
}
