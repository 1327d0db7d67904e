// Package state persists everything the sync engine keeps between
// passes: the mirror root settings, the two sweep cursors, the remote
// item identity-mapping table, and the collection→folder table. Backed
// by a single bbolt database with JSON-encoded values.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alexjbarnes/marksync/internal/mirror"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	settingsBucket    = []byte("settings")
	cursorsBucket     = []byte("cursors")
	itemsBucket       = []byte("items")
	collectionsBucket = []byte("collections")

	rootSettingsKey = []byte("root")
	cursorsKey      = []byte("cursors")
)

// State wraps a bbolt database holding all durable engine state.
type State struct {
	db *bolt.DB
}

var _ mirror.StateStore = (*State)(nil)

// Load opens the state database at ~/.marksync/state.db, creating it if
// it does not exist.
func Load() (*State, error) {
	return LoadAt(dbPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{settingsBucket, cursorsBucket, itemsBucket, collectionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Cursors returns the persisted sweep cursors, zero-valued when no pass
// has completed yet.
func (s *State) Cursors() (mirror.Cursors, error) {
	var c mirror.Cursors

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cursorsBucket).Get(cursorsKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &c)
	})

	return c, err
}

// SetCursors persists the sweep cursors.
func (s *State) SetCursors(c mirror.Cursors) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return tx.Bucket(cursorsBucket).Put(cursorsKey, data)
	})
}

// RootSettings returns the persisted mirror root settings, zero-valued
// when never configured.
func (s *State) RootSettings() (mirror.RootSettings, error) {
	var rs mirror.RootSettings

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(settingsBucket).Get(rootSettingsKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &rs)
	})

	return rs, err
}

// SetRootSettings persists the mirror root settings.
func (s *State) SetRootSettings(rs mirror.RootSettings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rs)
		if err != nil {
			return err
		}

		return tx.Bucket(settingsBucket).Put(rootSettingsKey, data)
	})
}

// ItemMapping returns the local node ID mapped to a remote item, or ""
// when no mapping exists.
func (s *State) ItemMapping(itemID int64) (string, error) {
	return s.mappingValue(itemsBucket, mappingKey(itemID))
}

// SetItemMapping persists an itemID→nodeID mapping.
func (s *State) SetItemMapping(itemID int64, nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Put(mappingKey(itemID), []byte(nodeID))
	})
}

// DeleteItemMapping removes the mapping for a remote item.
func (s *State) DeleteItemMapping(itemID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Delete(mappingKey(itemID))
	})
}

// DeleteItemMappingsByNode removes every item mapping pointing at the
// given local node. Called whenever a node is removed through any path,
// so mappings never dangle silently.
func (s *State) DeleteItemMappingsByNode(nodeID string) error {
	return s.deleteByValue(itemsBucket, nodeID)
}

// CollectionFolder returns the local folder ID mapped to a remote
// collection, or "" when no mapping exists.
func (s *State) CollectionFolder(collectionID int64) (string, error) {
	return s.mappingValue(collectionsBucket, mappingKey(collectionID))
}

// SetCollectionFolder persists a collectionID→folderID mapping.
func (s *State) SetCollectionFolder(collectionID int64, folderID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Put(mappingKey(collectionID), []byte(folderID))
	})
}

// DeleteCollectionFolder removes the mapping for a remote collection.
func (s *State) DeleteCollectionFolder(collectionID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Delete(mappingKey(collectionID))
	})
}

// DeleteCollectionFoldersByNode removes every collection mapping
// pointing at the given local folder.
func (s *State) DeleteCollectionFoldersByNode(folderID string) error {
	return s.deleteByValue(collectionsBucket, folderID)
}

func (s *State) mappingValue(bucket, key []byte) (string, error) {
	var nodeID string

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(key); v != nil {
			nodeID = string(v)
		}

		return nil
	})

	return nodeID, err
}

// deleteByValue scans a mapping bucket and deletes every entry whose
// value equals nodeID. The tables are small (one entry per mirrored
// item or collection) so a linear scan is fine.
func (s *State) deleteByValue(bucket []byte, nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)

		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			if string(v) == nodeID {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

func mappingKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current
		// directory where the database might end up with wrong
		// permissions or inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".marksync", "state.db")
}
