package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
)

var recordPrefix = []byte("rec/")

// gcDiscardRatio is passed to badger's value log GC.
const gcDiscardRatio = 0.5

// BadgerStore - A Store persisted in a badger database so that replicas survive
// restarts. Records carry a badger TTL matching their expiry, so badger drops them on
// its own once expired.
type BadgerStore struct {
	db    *badger.DB
	clock clock.Clock
	log   *slog.Logger
}

// BadgerOptions - Where and how to open the database. An empty Dir opens an
// in-memory database.
type BadgerOptions struct {
	Dir    string
	Clock  clock.Clock
	Logger *slog.Logger
}

type persistedRecord struct {
	Value     []byte    `json:"value"`
	Expiry    time.Time `json:"expiry"`
	Publisher string    `json:"publisher"`
	StoredAt  time.Time `json:"stored_at"`
}

func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	bopts := badger.DefaultOptions(opts.Dir).WithLogger(&badgerLogger{logger})
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %q: %w", opts.Dir, err)
	}
	return &BadgerStore{db: db, clock: clk, log: logger}, nil
}

func dbKey(key types.NodeID) []byte {
	return append(append([]byte(nil), recordPrefix...), key[:]...)
}

func convertError(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (s *BadgerStore) Put(rec Record) error {
	raw, err := json.Marshal(persistedRecord{
		Value:     rec.Value,
		Expiry:    rec.Expiry,
		Publisher: rec.Publisher.String(),
		StoredAt:  rec.StoredAt,
	})
	if err != nil {
		return err
	}

	entry := badger.NewEntry(dbKey(rec.Key), raw)
	if !rec.Expiry.IsZero() {
		ttl := rec.Expiry.Sub(s.clock.Now())
		if ttl <= 0 {
			return s.Delete(rec.Key)
		}
		entry = entry.WithTTL(ttl)
	}
	return convertError(s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}))
}

func decodeRecord(key []byte, raw []byte) (Record, error) {
	var p persistedRecord
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, err
	}
	id, err := types.NodeIDFromBytes(key[len(recordPrefix):])
	if err != nil {
		return Record{}, err
	}
	rec := Record{Key: id, Value: p.Value, Expiry: p.Expiry, StoredAt: p.StoredAt}
	if p.Publisher != "" {
		if rec.Publisher, err = types.ParseNodeID(p.Publisher); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func (s *BadgerStore) Get(key types.NodeID) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(item.Key(), val)
			found = err == nil
			return err
		})
	})
	if err != nil {
		return Record{}, false, convertError(err)
	}
	if found && rec.Expired(s.clock.Now()) {
		return Record{}, false, nil
	}
	return rec, found, nil
}

func (s *BadgerStore) Delete(key types.NodeID) error {
	return convertError(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	}))
}

func (s *BadgerStore) Range(fn func(rec Record) bool) error {
	var records []Record
	now := s.clock.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(item.KeyCopy(nil), raw)
			if err != nil {
				s.log.Warn("skipping undecodable record", "err", err)
				continue
			}
			if !rec.Expired(now) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	for _, rec := range records {
		if !fn(rec) {
			break
		}
	}
	return nil
}

// DeleteExpired removes records whose stored expiry has passed according to the
// store's clock (badger's own TTL handles the wall clock) and runs value log GC.
func (s *BadgerStore) DeleteExpired(now time.Time) (int, error) {
	var expired []types.NodeID
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(item.Key(), val)
				if err == nil && rec.Expired(now) {
					expired = append(expired, rec.Key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, convertError(err)
	}

	for _, key := range expired {
		if err := s.Delete(key); err != nil {
			return 0, err
		}
	}
	s.runGC()
	return len(expired), nil
}

func (s *BadgerStore) runGC() {
	if s.db.Opts().InMemory {
		return
	}
	for s.db.RunValueLogGC(gcDiscardRatio) == nil {
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
