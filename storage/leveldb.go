package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	dbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/spacemeshos/poe/registry"
)

var claimPrefix = []byte{'c'}

func claimKey(fingerprint registry.Fingerprint) []byte {
	key := make([]byte, 0, len(claimPrefix)+len(fingerprint))
	key = append(key, claimPrefix...)
	return append(key, fingerprint...)
}

// LevelDB keeps claims in a LevelDB database, one key per fingerprint.
type LevelDB struct {
	db *leveldb.DB
}

var _ registry.Store = (*LevelDB)(nil)

func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) Get(_ context.Context, fingerprint registry.Fingerprint) (registry.Record, error) {
	data, err := s.db.Get(claimKey(fingerprint), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return registry.Record{}, registry.ErrNotFound
	case err != nil:
		return registry.Record{}, fmt.Errorf("get claim %s from DB: %w", fingerprint, err)
	}
	return registry.DecodeRecord(data)
}

func (s *LevelDB) Put(_ context.Context, fingerprint registry.Fingerprint, record registry.Record) error {
	data, err := registry.EncodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.db.Put(claimKey(fingerprint), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing claim in DB: %w", err)
	}
	return nil
}

func (s *LevelDB) Delete(_ context.Context, fingerprint registry.Fingerprint) error {
	if err := s.db.Delete(claimKey(fingerprint), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("deleting claim from DB: %w", err)
	}
	return nil
}

func (s *LevelDB) Iterate(ctx context.Context, fn func(registry.Fingerprint, registry.Record) error) error {
	iter := s.db.NewIterator(dbutil.BytesPrefix(claimPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := registry.DecodeRecord(iter.Value())
		if err != nil {
			return fmt.Errorf("claim %X: %w", iter.Key(), err)
		}
		// The iterator reuses its key buffer.
		fingerprint := append(registry.Fingerprint{}, iter.Key()[len(claimPrefix):]...)
		if err := fn(fingerprint, record); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}
