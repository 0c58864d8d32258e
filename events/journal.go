package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spacemeshos/go-scale"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	dbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/spacemeshos/poe/registry"
)

var journalPrefix = []byte{'e'}

const journalKeySize = 1 + 8 + 4

func journalKey(block registry.BlockNumber, index uint32) []byte {
	key := make([]byte, 0, journalKeySize)
	key = append(key, journalPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(block))
	return binary.BigEndian.AppendUint32(key, index)
}

// Journal is a persistent, ordered log of records. Indexers page through
// it with List to rebuild the registry.
type Journal struct {
	db *leveldb.DB
}

var _ Sink = (*Journal)(nil)

func NewJournal(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal @ %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Name() string {
	return "journal"
}

func (j *Journal) Publish(_ context.Context, records ...Record) error {
	batch := new(leveldb.Batch)
	for _, r := range records {
		var buf bytes.Buffer
		if _, err := r.Event.EncodeScale(scale.NewEncoder(&buf)); err != nil {
			return fmt.Errorf("encoding %s: %w", r, err)
		}
		batch.Put(journalKey(r.Block, r.Index), buf.Bytes())
	}
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// List returns up to limit records starting at block from, in order.
// A limit <= 0 returns all of them.
func (j *Journal) List(ctx context.Context, from registry.BlockNumber, limit int) ([]Record, error) {
	iter := j.db.NewIterator(dbutil.BytesPrefix(journalPrefix), nil)
	defer iter.Release()

	var records []Record
	for ok := iter.Seek(journalKey(from, 0)); ok; ok = iter.Next() {
		if limit > 0 && len(records) == limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := decodeJournalEntry(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, iter.Error()
}

// Last returns the most recent record.
func (j *Journal) Last() (Record, bool, error) {
	iter := j.db.NewIterator(dbutil.BytesPrefix(journalPrefix), nil)
	defer iter.Release()
	if !iter.Last() {
		return Record{}, false, iter.Error()
	}
	record, err := decodeJournalEntry(iter.Key(), iter.Value())
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func decodeJournalEntry(key, value []byte) (Record, error) {
	if len(key) != journalKeySize {
		return Record{}, fmt.Errorf("invalid journal key %X", key)
	}
	record := Record{
		Block: registry.BlockNumber(binary.BigEndian.Uint64(key[1:9])),
		Index: binary.BigEndian.Uint32(key[9:]),
	}
	if _, err := record.Event.DecodeScale(scale.NewDecoder(bytes.NewReader(value))); err != nil {
		return Record{}, fmt.Errorf("decoding journal entry %X: %w", key, err)
	}
	return record, nil
}
