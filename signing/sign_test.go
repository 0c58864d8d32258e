package signing_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/signing"
)

type Foo struct {
	s string
}

func (f *Foo) EncodeScale(enc *scale.Encoder) (int, error) {
	return scale.EncodeString(enc, f.s)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	data := Foo{s: "sign me"}
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	require.NoError(err)

	signed, err := signing.Sign(data, privKey)
	require.NoError(err)
	require.EqualValues(data, *signed.Data())
	require.Equal(pubKey, signed.PubKey())

	verified, err := signing.NewFromScaleEncodable(*signed.Data(), signed.Signature(), pubKey)
	require.NoError(err)
	require.EqualValues(signed.Data(), verified.Data())

	id := signing.Identity(verified)
	require.Equal(registry.Identity(pubKey), id)
}

func TestInvalidSignature(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	require.NoError(err)

	signed, err := signing.Sign(Foo{s: "sign me"}, privKey)
	require.NoError(err)

	_, err = signing.NewFromScaleEncodable(Foo{s: "not me"}, signed.Signature(), pubKey)
	require.ErrorIs(err, signing.ErrSignatureInvalid)

	_, err = signing.NewFromScaleEncodable(Foo{s: "sign me"}, []byte{}, pubKey)
	require.ErrorIs(err, signing.ErrSignatureInvalid)

	otherKey, _, err := ed25519.GenerateKey(nil)
	require.NoError(err)
	_, err = signing.NewFromScaleEncodable(Foo{s: "sign me"}, signed.Signature(), otherKey)
	require.ErrorIs(err, signing.ErrSignatureInvalid)
}

func TestInvalidKeys(t *testing.T) {
	t.Parallel()
	_, err := signing.NewFromScaleEncodable(Foo{}, nil, []byte{1, 2, 3})
	require.ErrorIs(t, err, signing.ErrInvalidPubkeyLen)

	_, err = signing.Sign(Foo{}, ed25519.PrivateKey{1})
	require.ErrorIs(t, err, signing.ErrInvalidKeyLen)
}
