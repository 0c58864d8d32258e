package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/util"
)

const (
	stateFilename = "state.bin"

	// KeyEnvVar holds a base64 encoded ed25519 private key of the operator.
	KeyEnvVar = "POE_KEY"
)

type state struct {
	PrivKey []byte
}

func saveState(datadir string, s *state) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

// loadState returns the persisted operator key. Without a persisted state the
// key comes from envKey, or a new one is generated. A persisted key that
// differs from envKey is an error.
func loadState(ctx context.Context, datadir, envKey string) (*state, error) {
	var fromEnv ed25519.PrivateKey
	if envKey != "" {
		key, err := base64.StdEncoding.DecodeString(envKey)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", KeyEnvVar, err)
		}
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%s has invalid length %d, expected %d", KeyEnvVar, len(key), ed25519.PrivateKeySize)
		}
		fromEnv = key
	}

	s, err := util.Load[state](filepath.Join(datadir, stateFilename))
	switch {
	case errors.Is(err, os.ErrNotExist):
		if fromEnv != nil {
			logging.FromContext(ctx).Info("using operator key from environment")
			return &state{PrivKey: fromEnv}, nil
		}
		logging.FromContext(ctx).Info("generating new operator key")
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		return &state{PrivKey: priv}, nil
	case err != nil:
		return nil, err
	}
	if len(s.PrivKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("persisted key has invalid length %d", len(s.PrivKey))
	}
	if fromEnv != nil && !bytes.Equal(fromEnv, s.PrivKey) {
		return nil, fmt.Errorf("key from %s does not match the persisted key", KeyEnvVar)
	}
	return s, nil
}
