// Package signing authenticates scale-encodable data with ed25519.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/poe/registry"
)

var (
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidPubkeyLen = errors.New("pubkey has invalid length")
	ErrInvalidKeyLen    = errors.New("private key has invalid length")
)

// Signed is data whose signature was produced or checked by this package.
// It provides a read-only access to it.
type Signed[T any] interface {
	// Data retrieves the underlying data.
	// The received data is READ ONLY.
	Data() *T
	PubKey() ed25519.PublicKey
	Signature() []byte
}

type signedData[T any] struct {
	data      T
	pubkey    ed25519.PublicKey
	signature []byte
}

func (d *signedData[T]) Data() *T {
	return &d.data
}

func (d *signedData[T]) PubKey() ed25519.PublicKey {
	return d.pubkey
}

func (d *signedData[T]) Signature() []byte {
	return d.signature
}

type encodable[P any] interface {
	scale.Encodable
	*P
}

// Encode returns the bytes a signature of data covers.
func Encode[T any, E encodable[T]](data T) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := E(&data).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to serialize data: %w", err)
	}
	return buf.Bytes(), nil
}

// Sign signs data with key.
// *T must implement scale.Encodable which is constrained by encodable.
func Sign[T any, E encodable[T]](data T, key ed25519.PrivateKey) (Signed[T], error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeyLen
	}
	msg, err := Encode[T, E](data)
	if err != nil {
		return nil, err
	}
	return &signedData[T]{
		data:      data,
		pubkey:    key.Public().(ed25519.PublicKey),
		signature: ed25519.Sign(key, msg),
	}, nil
}

// NewFromScaleEncodable checks that signature was made over data by pubkey
// and wraps them into Signed[T].
func NewFromScaleEncodable[T any, E encodable[T]](data T, signature, pubkey []byte) (Signed[T], error) {
	if l := len(pubkey); l != ed25519.PublicKeySize {
		return nil, ErrInvalidPubkeyLen
	}
	msg, err := Encode[T, E](data)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(pubkey, msg, signature) {
		return nil, ErrSignatureInvalid
	}
	return &signedData[T]{
		data:      data,
		pubkey:    bytes.Clone(pubkey),
		signature: bytes.Clone(signature),
	}, nil
}

// Identity returns the registry identity of the signer.
func Identity[T any](signed Signed[T]) registry.Identity {
	var id registry.Identity
	copy(id[:], signed.PubKey())
	return id
}
