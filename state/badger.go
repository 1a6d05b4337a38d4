package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// lastUploadKey the only key of the store
const lastUploadKey = "last_upload"

// encMode keeps the sub-second part and the zone of StagedAt
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// BadgerStore a Store on an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes badger messages to the shared logger; its INFO chatter is demoted to DEBUG.
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(msg string, items ...any) {
	log.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (badgerLogger) Warningf(msg string, items ...any) {
	log.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (badgerLogger) Infof(msg string, items ...any) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (badgerLogger) Debugf(msg string, items ...any) {
	log.Trace(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// DefaultDir the state folder used when none is configured: <user config dir>/bqupload/state
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "bqupload", "state")
}

// OpenBadgerStore opens (creating it when needed) the store in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state folder %s: %w", dir, err)
	}
	return openBadger(badger.DefaultOptions(dir))
}

// OpenMemoryStore opens a store that lives only as long as the process.
func OpenMemoryStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts.Logger = badgerLogger{}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put overwrites the last upload record.
func (s *BadgerStore) Put(record LastRunState) error {
	data, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastUploadKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save the last upload: %w", err)
	}
	log.Debug("Saved the last upload", zap.String("run", record.RunID), zap.String("key", record.UploadName))
	return nil
}

// Get reads the last upload record.
func (s *BadgerStore) Get() (LastRunState, error) {
	var record LastRunState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastUploadKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := cbor.Unmarshal(val, &record); err != nil {
				return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return LastRunState{}, ErrNotFound
	}
	if err != nil {
		return LastRunState{}, err
	}
	return record, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
