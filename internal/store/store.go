// Package store persists correlation records, conversation records and the
// per-turn artifact index in BadgerDB. Values are msgpack-encoded.
//
// Keys are colon-separated paths:
//
//	corr:{sessionId}
//	conv:{sessionId}
//	artifact:{sessionId}:{turn:06d}
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

type Options struct {
	// Dir is the BadgerDB data directory. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Log receives badger warnings and errors. Nil silences badger.
	Log *logrus.Entry
}

// DB is safe for concurrent use.
type DB struct {
	db *badger.DB
}

func Open(opts Options) (*DB, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	bo := badger.DefaultOptions(opts.Dir).WithLoggingLevel(badger.WARNING)
	if opts.InMemory {
		bo = bo.WithInMemory(true)
	}
	if opts.Log != nil {
		bo = bo.WithLogger(opts.Log.WithField("component", "badger"))
	} else {
		bo = bo.WithLogger(nil)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, ":"))
}

func (d *DB) get(ctx context.Context, k []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var raw []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(raw, v)
}

func (d *DB) set(ctx context.Context, k []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, raw)
	})
}

// update reads, mutates and writes k inside one transaction. Conflicting
// concurrent updates are retried by badger's optimistic concurrency.
func (d *DB) update(ctx context.Context, k []byte, v any, fn func(found bool) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		err := d.db.Update(func(txn *badger.Txn) error {
			found := true
			item, err := txn.Get(k)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				found = false
			case err != nil:
				return err
			default:
				if err := item.Value(func(raw []byte) error {
					return msgpack.Unmarshal(raw, v)
				}); err != nil {
					return err
				}
			}
			if err := fn(found); err != nil {
				return err
			}
			raw, err := msgpack.Marshal(v)
			if err != nil {
				return err
			}
			return txn.Set(k, raw)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

// scan calls fn with each raw value under prefix, in key order.
func (d *DB) scan(ctx context.Context, prefix []byte, fn func(raw []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
