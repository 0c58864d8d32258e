package registry

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

const (
	// IdentitySize is the size of an identity (an ed25519 public key).
	IdentitySize = 32

	// MaxFingerprintSize bounds fingerprints on the wire and on disk.
	// The configured MaxClaimLength can never exceed it.
	MaxFingerprintSize = 1 << 16
)

// Fingerprint is the registry key. Equality is exact byte equality.
type Fingerprint []byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(f)), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding fingerprint: %w", err)
	}
	*f = b
	return nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (f *Fingerprint) UnmarshalFlag(value string) error {
	return f.UnmarshalText([]byte(value))
}

// Identity of a principal able to own claims.
type Identity [IdentitySize]byte

func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, fmt.Errorf("invalid identity length %d, expected %d", len(b), IdentitySize)
	}
	copy(id[:], b)
	return id, nil
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identity) Bytes() []byte {
	return id[:]
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding identity: %w", err)
	}
	decoded, err := IdentityFromBytes(b)
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (id *Identity) UnmarshalFlag(value string) error {
	return id.UnmarshalText([]byte(value))
}

// BlockNumber is a position on the host's timeline.
type BlockNumber uint64

// Record is the current registration of a fingerprint.
type Record struct {
	Owner Identity `json:"owner"`
	// RegisteredAt is the block of the last Create or Transfer.
	RegisteredAt BlockNumber `json:"registered_at"`
}

func (r *Record) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, r.Owner[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(r.RegisteredAt))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Record) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, r.Owner[:])
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
		r.RegisteredAt = BlockNumber(field)
	}
	return total, nil
}

func EncodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if _, err := r.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}
