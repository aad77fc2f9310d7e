// Package dbbadger persists trade history in a badger store accessed through
// badgerhold.
package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// DbManager holds the badgerhold stores of the daemon.
type DbManager struct {
	TradeStore *badgerhold.Store
}

// NewDbManager opens (or creates if not exists) the badger store under the
// given base data dir. An empty base dir opens the store in memory, which
// tests and throwaway deployments use.
func NewDbManager(baseDbDir string, logger badger.Logger) (*DbManager, error) {
	tradeDb, err := createDb(baseDbDir, "trades", logger)
	if err != nil {
		return nil, fmt.Errorf("opening trade db: %w", err)
	}

	return &DbManager{TradeStore: tradeDb}, nil
}

// Close releases the underlying stores.
func (d *DbManager) Close() error {
	return d.TradeStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(
	baseDbDir, name string, logger badger.Logger,
) (*badgerhold.Store, error) {
	isInMemory := len(baseDbDir) <= 0

	var opts badger.Options
	if isInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(baseDbDir, name))
	}
	opts.Logger = logger

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		go collectGarbage(db.Badger())
	}
	return db, nil
}

// collectGarbage periodically reclaims badger value log space until the db is
// closed.
func collectGarbage(db *badger.DB) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		err := db.RunValueLogGC(0.5)
		if err == badger.ErrRejected {
			return
		}
	}
}
