package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/spacemeshos/poe/registry"
)

var (
	heightKey   = []byte{'h'}
	noncePrefix = []byte{'n'}
)

func nonceKey(id registry.Identity) []byte {
	return append(append([]byte{}, noncePrefix...), id[:]...)
}

// ChainState persists the node's timeline position and the next nonce
// of every identity that ever had a transaction included.
type ChainState struct {
	db *leveldb.DB
}

func NewChainState(path string) (*ChainState, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain state @ %s: %w", path, err)
	}
	return &ChainState{db: db}, nil
}

// Height returns the block of the last included transaction, 0 if none.
func (s *ChainState) Height(context.Context) (registry.BlockNumber, error) {
	height, err := getUint64(s.db, heightKey)
	return registry.BlockNumber(height), err
}

// Nonce returns the nonce the next transaction of id must carry.
func (s *ChainState) Nonce(_ context.Context, id registry.Identity) (uint64, error) {
	return getUint64(s.db, nonceKey(id))
}

// Commit records an included transaction: the new height and the caller's
// next nonce are written atomically.
func (s *ChainState) Commit(_ context.Context, block registry.BlockNumber, caller registry.Identity, nonce uint64) error {
	trans, err := s.db.OpenTransaction()
	if err != nil {
		return err
	}
	if err := trans.Put(heightKey, binary.BigEndian.AppendUint64(nil, uint64(block)), nil); err != nil {
		trans.Discard()
		return fmt.Errorf("saving height: %w", err)
	}
	if err := trans.Put(nonceKey(caller), binary.BigEndian.AppendUint64(nil, nonce), nil); err != nil {
		trans.Discard()
		return fmt.Errorf("saving nonce of %s: %w", caller, err)
	}
	if err := trans.Commit(); err != nil {
		return fmt.Errorf("committing chain state: %w", err)
	}
	return nil
}

func (s *ChainState) Close() error {
	return s.db.Close()
}

func getUint64(db *leveldb.DB, key []byte) (uint64, error) {
	data, err := db.Get(key, &opt.ReadOptions{})
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("get %X from DB: %w", key, err)
	case len(data) != 8:
		return 0, fmt.Errorf("corrupted value of %X: %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
