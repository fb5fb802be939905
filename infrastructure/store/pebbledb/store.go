package pebbledb

import (
	"encoding/binary"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/infofi/ton-signal-publisher/entities"
	"github.com/pkg/errors"
)

const lastProcessedBlockKey = 0x00

// Store keeps the ingestion cursor. The cursor is the only state that has
// to survive a restart.
type Store struct {
	db *pebble.DB
}

func NewCursorStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "signal-publisher-store"), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble db")
	}

	return &Store{db: db}, nil
}

func (ps *Store) SetLastProcessedBlock(height uint64) error {
	key := []byte{lastProcessedBlockKey}

	var value []byte
	value = binary.BigEndian.AppendUint64(value, height)

	err := ps.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last processed block to [%d]", height)
	}

	return nil
}

func (ps *Store) GetLastProcessedBlock() (uint64, error) {
	key := []byte{lastProcessedBlockKey}

	value, closer, err := ps.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "getting last processed block")
	}
	defer closer.Close()

	return binary.BigEndian.Uint64(value), nil
}

func (ps *Store) Close() error {
	return ps.db.Close()
}
