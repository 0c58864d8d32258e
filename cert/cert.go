// Package cert issues operator-signed statements about claims. A holder can
// show a certificate to a third party that trusts the operator key without
// that party querying the registry.
package cert

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/poe/registry"
)

var (
	ErrCertSignatureMismatch = errors.New("signature mismatch")
	ErrCertDataMismatch      = errors.New("fingerprint mismatch")
)

// Claim states that Owner held Fingerprint since block RegisteredAt,
// as seen by the operator at IssuedAt.
type Claim struct {
	Fingerprint  registry.Fingerprint
	Owner        registry.Identity
	RegisteredAt registry.BlockNumber
	IssuedAt     time.Time
}

func (c *Claim) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, c.Fingerprint, registry.MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, c.Owner[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(c.RegisteredAt))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(c.IssuedAt.Unix()))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *Claim) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, registry.MaxFingerprintSize)
		if err != nil {
			return total, err
		}
		total += n
		c.Fingerprint = field
	}
	{
		n, err := scale.DecodeByteArray(dec, c.Owner[:])
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
		c.RegisteredAt = registry.BlockNumber(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		c.IssuedAt = time.Unix(int64(field), 0).UTC()
	}
	return total, nil
}

// Certificate holds the encoded claim and the operator's signature of it.
type Certificate struct {
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"`
}

func (c *Certificate) Decode() (*Claim, error) {
	return DecodeClaim(c.Data)
}

func DecodeClaim(data []byte) (*Claim, error) {
	var c Claim
	if _, err := c.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("decoding claim: %w", err)
	}
	return &c, nil
}

func EncodeClaim(c *Claim) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("encoding claim: %w", err)
	}
	return buf.Bytes(), nil
}

// Issue signs claim with the operator key. IssuedAt is truncated to seconds.
func Issue(key ed25519.PrivateKey, claim Claim) (*Certificate, error) {
	data, err := EncodeClaim(&claim)
	if err != nil {
		return nil, err
	}
	return &Certificate{Data: data, Signature: ed25519.Sign(key, data)}, nil
}

// Verify checks the certificate against the operator key and returns the
// claim it carries.
func Verify(certificate *Certificate, operator ed25519.PublicKey) (*Claim, error) {
	if len(operator) != ed25519.PublicKeySize ||
		!ed25519.Verify(operator, certificate.Data, certificate.Signature) {
		return nil, ErrCertSignatureMismatch
	}
	return certificate.Decode()
}

// VerifyFingerprint is Verify that additionally requires the certificate
// to be about fingerprint.
func VerifyFingerprint(
	certificate *Certificate,
	operator ed25519.PublicKey,
	fingerprint registry.Fingerprint,
) (*Claim, error) {
	claim, err := Verify(certificate, operator)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(claim.Fingerprint, fingerprint) {
		return nil, ErrCertDataMismatch
	}
	return claim, nil
}
