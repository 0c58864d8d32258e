package cert_test

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/registry"
)

func newClaim() cert.Claim {
	return cert.Claim{
		Fingerprint:  registry.Fingerprint{0xde, 0xad},
		Owner:        registry.Identity{1, 2, 3},
		RegisteredAt: 1234,
		IssuedAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claim := newClaim()
	certificate, err := cert.Issue(priv, claim)
	require.NoError(t, err)

	verified, err := cert.Verify(certificate, pub)
	require.NoError(t, err)
	require.Equal(t, claim, *verified)

	verified, err = cert.VerifyFingerprint(certificate, pub, registry.Fingerprint{0xde, 0xad})
	require.NoError(t, err)
	require.Equal(t, claim.Owner, verified.Owner)
}

func TestIssuedAtIsTruncatedToSeconds(t *testing.T) {
	t.Parallel()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	claim := newClaim()
	claim.IssuedAt = claim.IssuedAt.Add(750 * time.Millisecond)
	certificate, err := cert.Issue(priv, claim)
	require.NoError(t, err)

	verified, err := cert.Verify(certificate, pub)
	require.NoError(t, err)
	require.Equal(t, newClaim().IssuedAt, verified.IssuedAt)
}

func TestVerifyFailures(t *testing.T) {
	t.Parallel()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	certificate, err := cert.Issue(priv, newClaim())
	require.NoError(t, err)

	t.Run("tampered data", func(t *testing.T) {
		tampered := *certificate
		tampered.Data = append([]byte{}, certificate.Data...)
		tampered.Data[0] ^= 0xff
		_, err := cert.Verify(&tampered, pub)
		require.ErrorIs(t, err, cert.ErrCertSignatureMismatch)
	})
	t.Run("other operator", func(t *testing.T) {
		other, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		_, err = cert.Verify(certificate, other)
		require.ErrorIs(t, err, cert.ErrCertSignatureMismatch)
	})
	t.Run("invalid operator key", func(t *testing.T) {
		_, err := cert.Verify(certificate, ed25519.PublicKey{1})
		require.ErrorIs(t, err, cert.ErrCertSignatureMismatch)
	})
	t.Run("other fingerprint", func(t *testing.T) {
		_, err := cert.VerifyFingerprint(certificate, pub, registry.Fingerprint{0xde})
		require.ErrorIs(t, err, cert.ErrCertDataMismatch)
	})
}
